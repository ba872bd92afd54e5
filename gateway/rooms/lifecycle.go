package rooms

import (
	"context"

	"github.com/meetbridge/interview-gateway/internal/log"
)

// End terminates a room: the ended flag is monotonic and blocks every
// later join for this room id for the lifetime of the process.
// Ending an already-ended room is a no-op success.
func (s *svcImpl) End(roomID, reason string) *EndResult {
	rm := s.getOrCreate(roomID)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.ended {
		return &EndResult{AlreadyEnded: true, Reason: rm.endReason}
	}

	conns := rm.connIDs()
	rm.ended = true
	rm.endReason = reason
	rm.softReset()
	rm.pending = make(map[string]*pendingJoin)
	rm.lastActive = s.clock.Now()

	meetingsEnded.Add(context.Background(), 1)
	s.logger.Info("Meeting ended",
		log.String("roomId", roomID),
		log.String("reason", reason),
		log.Int("evicted", len(conns)),
	)

	return &EndResult{
		Reason:  reason,
		ConnIDs: conns,
	}
}

func (s *svcImpl) sweepLoop() {
	for roomID := range s.sched.Chan() {
		s.sweepRoom(roomID)
	}
}

// sweepRoom drops a registry entry once it has been empty for IdleTTL.
// Occupied rooms are left alone; their next empty transition re-arms
// the timer. Ended rooms are never swept, so the ended flag keeps
// blocking joins for the lifetime of the process.
func (s *svcImpl) sweepRoom(roomID string) {
	rm, ok := s.rooms.Load(roomID)
	if !ok {
		return
	}
	rm.mu.Lock()
	occupied := len(rm.participants) > 0
	ended := rm.ended
	idle := s.clock.Now().Sub(rm.lastActive)
	rm.mu.Unlock()

	if occupied || ended {
		return
	}
	if idle < s.policy.IdleTTL {
		if s.sched != nil {
			s.sched.Enqueue(roomID, s.policy.IdleTTL-idle)
		}
		return
	}

	s.rooms.Delete(roomID)
	roomsSwept.Add(context.Background(), 1)
	s.logger.Info("Idle room swept", log.String("roomId", roomID))
}
