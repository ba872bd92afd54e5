package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/jsonrpc"
	"github.com/meetbridge/interview-gateway/internal/log"
)

// Notification methods pushed to clients.
const (
	notifyRoomTimer       = "roomTimer"
	notifyRoomState       = "roomState"
	notifyPresence        = "presence"
	notifyDuplicatePrompt = "duplicatePrompt"
	notifyForcedRemoval   = "forcedRemoval"
	notifyMeetingEnded    = "meetingEnded"
	notifyChatMessage     = "chatMessage"
	notifyChatHistory     = "chatHistory"
	notifyReofferRequest  = "reofferRequest"
	notifyNetPeer         = "netPeer"
)

// Forced-removal reasons.
const (
	removalReconnected = "reconnected"
	removalDuplicate   = "duplicate_session"
	removalMeetingEnd  = "meeting_ended"
)

type presenceEvent struct {
	Type   string     `json:"type"`
	ConnID string     `json:"connId"`
	Name   string     `json:"name"`
	Role   rooms.Role `json:"role"`
}

type relayEnvelope struct {
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type Server struct {
	jsonrpc.Handler[rtcContext]
	roomSvc rooms.Service
	connMgr *WSConnManager
	logger  *log.Logger
}

func NewServer(
	handler jsonrpc.Handler[rtcContext],
	connMgr *WSConnManager,
	roomSvc rooms.Service,
	logger *log.Logger,
) *Server {
	return &Server{
		Handler: handler,
		roomSvc: roomSvc,
		connMgr: connMgr,
		logger:  logger,
	}
}

func (s *Server) Open(ctx context.Context) error {
	s.logger.Info("Opening Signal Server")
	s.register()
	return nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing Signal Server")
	s.roomSvc.Close()
	return nil
}

func (s *Server) register() {
	// Register RPC methods
	// handler is single threaded, no need to lock here
	s.Def("join", s.handleJoin)
	s.Def("duplicateConfirm", s.handleDuplicateConfirm)
	s.Def("leave", s.handleLeave)
	s.Def("avState", s.handleAVState)
	s.Def("presenceUpdate", s.handlePresenceUpdate)
	s.Def("chatSend", s.handleChatSend)
	s.Def("offer", s.relayHandler("offer"))
	s.Def("answer", s.relayHandler("answer"))
	s.Def("icecandidate", s.relayHandler("icecandidate"))
	s.Def("ping", s.handlePing)
	s.Def("netReport", s.handleNetReport)
}

func (s *Server) handleJoin(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("already joined")
	}

	var data struct {
		Name    string `json:"name" validate:"omitempty,max=64"`
		Consent bool   `json:"consent"`
	}
	if params != nil {
		if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
			return nil, jsonrpc.ErrInvalidParams("invalid join parameters")
		}
	}

	req := rooms.RequestFromClaims(rtcCtx.claims)
	req.ConnID = rtcCtx.connID
	req.Consent = data.Consent
	if data.Name != "" {
		req.Name = data.Name
	}

	res := s.roomSvc.Admit(req)
	return s.completeAdmission(mctx, res)
}

func (s *Server) handleDuplicateConfirm(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("already joined")
	}

	var data struct {
		Confirm bool `json:"confirm"`
	}
	if params != nil {
		if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
			return nil, jsonrpc.ErrInvalidParams("invalid confirm parameters")
		}
	}

	res := s.roomSvc.ConfirmDuplicate(rtcCtx.roomID(), rtcCtx.connID, data.Confirm)
	if res.Cancelled {
		return map[string]any{"confirmed": false}, nil
	}

	if res.EvictedConnID != "" {
		s.evictPeer(rtcCtx.roomID(), res.EvictedConnID, removalDuplicate)
	}
	return s.completeAdmission(mctx, res.Admit)
}

// completeAdmission turns an admission outcome into the join reply and
// the broadcasts the rest of the room expects. Denials keep the
// connection open so the client can retry or show guidance.
func (s *Server) completeAdmission(mctx jsonrpc.MethodContext[rtcContext], res *rooms.AdmitResult) (any, error) {
	rtcCtx := mctx.Get()
	roomID := rtcCtx.roomID()

	if res.Pending {
		if err := mctx.Peer().Notify(rtcCtx.reqCtx, notifyDuplicatePrompt, map[string]any{
			"roomId": roomID,
		}); err != nil {
			s.logger.Error("Failed to send duplicate prompt", log.Error(err))
		}
		return map[string]any{"admitted": false, "pending": true}, nil
	}

	if !res.Admitted {
		reply := map[string]any{
			"admitted": false,
			"reason":   res.Reason,
		}
		if res.Reason == rooms.DenyEarlyJoin {
			reply["scheduledStartMs"] = res.ScheduledStartMs
		}
		return reply, nil
	}

	// A same-credential reconnect displaced its stale connection.
	if res.ReplacedConnID != "" {
		s.evictPeer(roomID, res.ReplacedConnID, removalReconnected)
	}

	s.connMgr.AddClient(rtcCtx.connID, roomID, mctx.Peer())
	rtcCtx.joined = true

	if res.TimerStarted {
		s.connMgr.NotifyRoom(roomID, notifyRoomTimer, map[string]any{
			"startMs": res.StartMs,
			"now":     time.Now().UnixMilli(),
		})
	}
	s.connMgr.NotifyRoomExcept(roomID, rtcCtx.connID, notifyPresence, presenceEvent{
		Type:   "joined",
		ConnID: rtcCtx.connID,
		Name:   res.Participant.Name,
		Role:   res.Participant.Role,
	})
	s.connMgr.NotifyRoom(roomID, notifyRoomState, res.Snapshot)

	if len(res.ChatHistory) > 0 {
		if err := mctx.Peer().Notify(rtcCtx.reqCtx, notifyChatHistory, map[string]any{
			"messages": res.ChatHistory,
		}); err != nil {
			s.logger.Error("Failed to send chat history", log.Error(err))
		}
	}

	// A joining observer cannot originate offers; ask its peers to
	// re-offer toward it.
	for _, peerID := range res.ReofferPeers {
		s.connMgr.NotifyConn(roomID, peerID, notifyReofferRequest, map[string]any{
			"observerId": rtcCtx.connID,
		})
	}

	return map[string]any{
		"admitted": true,
		"connId":   rtcCtx.connID,
		"startMs":  res.StartMs,
		"snapshot": res.Snapshot,
	}, nil
}

// evictPeer force-removes one connection from its room and closes it.
func (s *Server) evictPeer(roomID, connID, reason string) {
	peer, ok := s.connMgr.GetPeer(roomID, connID)
	if !ok {
		return
	}
	rtcCtx := peer.Context().Get()
	if err := peer.Notify(rtcCtx.reqCtx, notifyForcedRemoval, map[string]any{
		"reason": reason,
	}); err != nil {
		s.logger.Error("Failed to send forced removal", log.Error(err))
	}
	rtcCtx.joined = false
	s.connMgr.RemoveClient(connID)
	if err := peer.Close(); err != nil {
		s.logger.Error("Failed to close evicted connection", log.Error(err))
	}
	forcedRemovals.Add(context.Background(), 1)
}

func (s *Server) handleLeave(mctx jsonrpc.MethodContext[rtcContext], _ *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if !rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	leaveAndBroadcast(s.roomSvc, s.connMgr, rtcCtx, s.logger)

	if err := mctx.Peer().Close(); err != nil {
		s.logger.Error("Failed to close connection", log.Error(err))
	}
	//nolint:nilnil
	return nil, nil
}

// leaveAndBroadcast is the single cleanup path shared by explicit
// leaves and transport disconnects.
func leaveAndBroadcast(roomSvc rooms.Service, connMgr *WSConnManager, rtcCtx *rtcContext, logger *log.Logger) {
	connMgr.RemoveClient(rtcCtx.connID)

	res := roomSvc.Leave(rtcCtx.roomID(), rtcCtx.connID)
	if !res.Removed {
		return
	}
	rtcCtx.joined = false

	roomID := rtcCtx.roomID()
	connMgr.NotifyRoom(roomID, notifyPresence, presenceEvent{
		Type:   "left",
		ConnID: rtcCtx.connID,
		Name:   res.Participant.Name,
		Role:   res.Participant.Role,
	})
	connMgr.NotifyRoom(roomID, notifyRoomState, res.Snapshot)

	logger.Debug("Participant left",
		log.String("roomId", roomID),
		log.String("connId", rtcCtx.connID),
		log.Bool("emptied", res.Emptied),
	)
}

func (s *Server) handleAVState(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if !rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		Muted    bool `json:"muted"`
		VideoOff bool `json:"videoOff"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid av state parameters")
	}

	snap, ok := s.roomSvc.SetAVState(rtcCtx.roomID(), rtcCtx.connID, data.Muted, data.VideoOff)
	if !ok {
		return nil, jsonrpc.ErrInvalidRequest("not a participant")
	}
	s.connMgr.NotifyRoom(rtcCtx.roomID(), notifyRoomState, snap)
	//nolint:nilnil
	return nil, nil
}

func (s *Server) handlePresenceUpdate(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if !rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		Name string `json:"name" validate:"required,max=64"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid presence parameters")
	}

	snap, ok := s.roomSvc.Rename(rtcCtx.roomID(), rtcCtx.connID, data.Name)
	if !ok {
		return nil, jsonrpc.ErrInvalidRequest("not a participant")
	}
	s.connMgr.NotifyRoom(rtcCtx.roomID(), notifyRoomState, snap)
	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleChatSend(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if !rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		Message string `json:"message" validate:"required,max=2000"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid chat parameters")
	}

	if !rtcCtx.chatLimiter.Allow() {
		chatThrottled.Add(rtcCtx.reqCtx, 1)
		//nolint:nilnil
		return nil, nil
	}

	msg, ok := s.roomSvc.AppendChat(rtcCtx.roomID(), rtcCtx.connID, data.Message)
	if !ok {
		return nil, jsonrpc.ErrInvalidRequest("not a participant")
	}
	s.connMgr.NotifyRoom(rtcCtx.roomID(), notifyChatMessage, msg)
	//nolint:nilnil
	return nil, nil
}

// relayHandler builds the forwarding handler for one signaling kind.
// The payload is opaque and forwarded verbatim; a missing target is
// silently dropped and the client renegotiates on its own.
func (s *Server) relayHandler(kind string) jsonrpc.MethodHandler[rtcContext] {
	return func(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
		rtcCtx := mctx.Get()
		if !rtcCtx.joined {
			return nil, jsonrpc.ErrInvalidRequest("not joined yet")
		}

		var data struct {
			To      string          `json:"to" validate:"required"`
			Payload json.RawMessage `json:"payload" validate:"required"`
		}
		if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
			return nil, jsonrpc.ErrInvalidParams("invalid relay parameters")
		}

		peer, ok := s.connMgr.GetPeer(rtcCtx.roomID(), data.To)
		if !ok {
			relayDropped.Add(rtcCtx.reqCtx, 1)
			//nolint:nilnil
			return nil, nil
		}

		if err := peer.Notify(rtcCtx.reqCtx, kind, relayEnvelope{
			From:    rtcCtx.connID,
			Payload: data.Payload,
		}); err != nil {
			relayDropped.Add(rtcCtx.reqCtx, 1)
			s.logger.Error("Failed to relay",
				log.String("kind", kind),
				log.String("to", data.To),
				log.Error(err),
			)
			//nolint:nilnil
			return nil, nil
		}
		relayForwarded.Add(rtcCtx.reqCtx, 1)
		//nolint:nilnil
		return nil, nil
	}
}

// handlePing echoes the client timestamp so it can measure its own
// round trip. Purely advisory; eviction only ever follows a real
// transport disconnect.
func (s *Server) handlePing(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	var data struct {
		T int64 `json:"t"`
	}
	if params != nil {
		if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
			return nil, jsonrpc.ErrInvalidParams("invalid ping parameters")
		}
	}
	return map[string]any{
		"t":   data.T,
		"now": time.Now().UnixMilli(),
	}, nil
}

func (s *Server) handleNetReport(mctx jsonrpc.MethodContext[rtcContext], params *json.RawMessage) (any, error) {
	rtcCtx := mctx.Get()
	if !rtcCtx.joined {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data struct {
		RTTMs int    `json:"rttMs" validate:"gte=0"`
		Level string `json:"level" validate:"omitempty,oneof=good fair poor"`
	}
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid net report parameters")
	}

	if !rtcCtx.netLimiter.Allow() {
		//nolint:nilnil
		return nil, nil
	}

	level := data.Level
	if level == "" {
		level = rttLevel(data.RTTMs)
	}
	s.connMgr.NotifyRoomExcept(rtcCtx.roomID(), rtcCtx.connID, notifyNetPeer, map[string]any{
		"from":  rtcCtx.connID,
		"rttMs": data.RTTMs,
		"level": level,
	})
	//nolint:nilnil
	return nil, nil
}

// rttLevel mirrors the client-side quality thresholds.
func rttLevel(rttMs int) string {
	switch {
	case rttMs <= 200:
		return "good"
	case rttMs <= 500:
		return "fair"
	default:
		return "poor"
	}
}

// EndMeeting implements gateway.MeetingControl.
func (s *Server) EndMeeting(ctx context.Context, roomID, reason string) (bool, error) {
	res := s.roomSvc.End(roomID, reason)
	if res.AlreadyEnded {
		return true, nil
	}

	s.connMgr.NotifyRoom(roomID, notifyMeetingEnded, map[string]any{
		"reason": res.Reason,
	})
	for _, connID := range res.ConnIDs {
		s.evictPeer(roomID, connID, removalMeetingEnd)
	}
	s.connMgr.RemoveRoom(roomID)
	return false, nil
}
