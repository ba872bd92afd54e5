package rooms

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meetbridge/interview-gateway/internal/log"
	"github.com/meetbridge/interview-gateway/internal/scheduler"
	isync "github.com/meetbridge/interview-gateway/internal/sync"
)

type svcImpl struct {
	rooms  *isync.Map[string, *room]
	policy Policy
	clock  clockwork.Clock
	sched  *scheduler.KeyedScheduler
	logger *log.Logger
}

func NewService(policy Policy, logger *log.Logger) Service {
	return newServiceWithClock(policy, logger, clockwork.NewRealClock())
}

func newServiceWithClock(policy Policy, logger *log.Logger, clock clockwork.Clock) *svcImpl {
	s := &svcImpl{
		rooms:  isync.NewMap[string, *room](),
		policy: policy,
		clock:  clock,
		logger: logger,
	}
	if policy.IdleTTL > 0 {
		s.sched = scheduler.NewKeyedScheduler(logger.Module("Sweep"))
		go s.sweepLoop()
	}
	return s
}

func (s *svcImpl) Close() {
	if s.sched != nil {
		s.sched.Shutdown()
	}
}

// getOrCreate is idempotent and lazy; rooms come into being on first
// reference and are only ever soft-reset afterwards.
func (s *svcImpl) getOrCreate(roomID string) *room {
	rm, loaded := s.rooms.LoadOrStore(roomID, newRoom(roomID, s.clock.Now()))
	if !loaded {
		roomsCreated.Add(context.Background(), 1)
		s.logger.Debug("Room created", log.String("roomId", roomID))
		if s.sched != nil {
			s.sched.Enqueue(roomID, s.policy.IdleTTL)
		}
	}
	return rm
}

func (s *svcImpl) Admit(req *JoinRequest) *AdmitResult {
	rm := s.getOrCreate(req.RoomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := s.clock.Now()
	res := s.admitLocked(rm, req, now)

	switch {
	case res.Admitted:
		rm.lastActive = now
		joinsAdmitted.Add(context.Background(), 1)
	case res.Pending:
		rm.lastActive = now
		duplicatePrompts.Add(context.Background(), 1)
	default:
		joinsDenied.Add(context.Background(), 1)
		s.logger.Debug("Join denied",
			log.String("roomId", req.RoomID),
			log.String("role", string(req.Role)),
			log.String("reason", string(res.Reason)),
		)
	}
	return res
}

// admitLocked runs the deny chain in order; first match wins.
func (s *svcImpl) admitLocked(rm *room, req *JoinRequest, now time.Time) *AdmitResult {
	if rm.ended {
		return &AdmitResult{Reason: DenyMeetingEnded}
	}

	if req.HasSchedule && now.Before(req.ScheduledStart) {
		return &AdmitResult{
			Reason:           DenyEarlyJoin,
			ScheduledStartMs: req.ScheduledStart.UnixMilli(),
		}
	}

	if req.HasExpiry && now.After(req.Expiry) {
		return &AdmitResult{Reason: DenyTooLate}
	}
	if s.policy.RestrictLateJoin && req.HasSchedule {
		window := s.policy.LateJoinAfter
		if req.GraceMin > 0 {
			window += time.Duration(req.GraceMin) * time.Minute
		}
		if now.After(req.ScheduledStart.Add(window)) {
			return &AdmitResult{Reason: DenyTooLate}
		}
	}

	if req.Role.RequiresConsent() && !req.Consent {
		return &AdmitResult{Reason: DenyConsentRequired}
	}

	if b := rm.liveBinding(req.Role); b != nil && b.ConnID != req.ConnID {
		if b.TokenID == req.TokenID {
			// Same credential on a new connection: a reconnect, not a
			// collision. The stale connection is displaced.
			replaced := b.ConnID
			rm.dropConn(replaced)
			res := s.finishAdmit(rm, req, now)
			res.ReplacedConnID = replaced
			return res
		}
		if req.Role.UsesResolver() {
			rm.pending[req.ConnID] = &pendingJoin{state: pendingConfirm, req: req}
			return &AdmitResult{Pending: true}
		}
		return &AdmitResult{Reason: DenyRoleTaken}
	}

	if s.roomFull(rm, req) {
		return &AdmitResult{Reason: DenyRoomFull}
	}

	return s.finishAdmit(rm, req, now)
}

// roomFull is true when every role slot is held live by an identity
// other than the joiner's.
func (s *svcImpl) roomFull(rm *room, req *JoinRequest) bool {
	for _, role := range AllRoles() {
		b := rm.liveBinding(role)
		if b == nil || b.TokenID == req.TokenID {
			return false
		}
	}
	return true
}

func (s *svcImpl) finishAdmit(rm *room, req *JoinRequest, now time.Time) *AdmitResult {
	delete(rm.pending, req.ConnID)
	rm.bind(req.Role, req.TokenID, req.ConnID)

	name := req.Name
	if name == "" {
		name = string(req.Role)
	}
	p := &Participant{
		Name:     name,
		Role:     req.Role,
		JoinedMs: now.UnixMilli(),
	}
	rm.participants[req.ConnID] = p

	res := &AdmitResult{
		Admitted:    true,
		Participant: *p,
	}
	if req.Role.StartsTimer() && rm.startMs == 0 {
		rm.startMs = now.UnixMilli()
		res.TimerStarted = true
	}
	res.StartMs = rm.startMs
	res.ChatHistory = rm.chatHistory()
	if !req.Role.CanOffer() {
		res.ReofferPeers = rm.peersThatOffer(req.ConnID)
	}
	res.Snapshot = rm.snapshot()
	return res
}

// Leave runs the identical cleanup for explicit leaves and transport
// disconnects, and is idempotent against redundant disconnect signals.
func (s *svcImpl) Leave(roomID, connID string) *LeaveResult {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return &LeaveResult{}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, removed := rm.dropConn(connID)
	if !removed {
		return &LeaveResult{}
	}
	rm.lastActive = s.clock.Now()

	res := &LeaveResult{
		Removed:     true,
		Participant: p,
	}
	if len(rm.participants) == 0 {
		rm.softReset()
		res.Emptied = true
		if s.sched != nil {
			s.sched.Enqueue(roomID, s.policy.IdleTTL)
		}
	}
	res.Snapshot = rm.snapshot()
	return res
}

func (s *svcImpl) SetAVState(roomID, connID string, muted, videoOff bool) (*Snapshot, bool) {
	return s.updateParticipant(roomID, connID, func(p *Participant) {
		p.Muted = muted
		p.VideoOff = videoOff
	})
}

func (s *svcImpl) Rename(roomID, connID, name string) (*Snapshot, bool) {
	if name == "" {
		return nil, false
	}
	return s.updateParticipant(roomID, connID, func(p *Participant) {
		p.Name = name
	})
}

func (s *svcImpl) updateParticipant(roomID, connID string, apply func(*Participant)) (*Snapshot, bool) {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if !ok {
		return nil, false
	}
	apply(p)
	rm.lastActive = s.clock.Now()
	return rm.snapshot(), true
}

func (s *svcImpl) AppendChat(roomID, connID, message string) (*ChatMessage, bool) {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connID]
	if !ok {
		return nil, false
	}

	now := s.clock.Now()
	msg := ChatMessage{
		From:    connID,
		Name:    p.Name,
		Role:    p.Role,
		Message: message,
		SentMs:  now.UnixMilli(),
	}
	rm.appendChat(msg)
	rm.lastActive = now
	chatMessages.Add(context.Background(), 1)
	return &msg, true
}

// Probe answers the pre-connect eligibility question without mutating
// any state; in particular it never creates the room.
func (s *svcImpl) Probe(req *JoinRequest) *ProbeResult {
	res := &ProbeResult{
		Valid:  true,
		RoomID: req.RoomID,
		Role:   req.Role,
	}
	now := s.clock.Now()
	if req.HasSchedule {
		res.ScheduledStartMs = req.ScheduledStart.UnixMilli()
		res.Early = now.Before(req.ScheduledStart)
	}

	rm, ok := s.rooms.Load(req.RoomID)
	if !ok {
		return res
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	res.ActivePeers = len(rm.participants)
	res.Ended = rm.ended
	res.EndReason = rm.endReason
	if b, ok := rm.bindings[req.Role]; ok && b.TokenID == req.TokenID {
		res.SameTokenBound = true
	}
	return res
}

func (s *svcImpl) GetStatus(roomID string) (*RoomStatus, bool) {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return s.status(rm), true
}

func (s *svcImpl) ListStatus() []*RoomStatus {
	var out []*RoomStatus
	s.rooms.Range(func(_ string, rm *room) bool {
		out = append(out, s.status(rm))
		return true
	})
	return out
}

func (s *svcImpl) status(rm *room) *RoomStatus {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	snap := rm.snapshot()
	return &RoomStatus{
		RoomID:       rm.id,
		StartMs:      rm.startMs,
		Ended:        rm.ended,
		EndReason:    rm.endReason,
		LastActive:   rm.lastActive,
		Participants: snap.Participants,
		Locked:       snap.Locked,
		ChatLen:      len(rm.chat),
	}
}
