package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/time/rate"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/jsonrpc"
	"github.com/meetbridge/interview-gateway/internal/jwt"
	"github.com/meetbridge/interview-gateway/internal/log"
)

type SignalServerSuite struct {
	suite.Suite
	roomSvc rooms.Service
	connMgr *WSConnManager
	server  *Server
	logger  *log.Logger
}

func TestSignalServerSuite(t *testing.T) {
	suite.Run(t, new(SignalServerSuite))
}

func (s *SignalServerSuite) SetupTest() {
	s.logger = log.NewNop()
	s.roomSvc = rooms.NewService(rooms.Policy{
		EarlyJoin:     15 * time.Minute,
		LateJoinAfter: 30 * time.Minute,
	}, s.logger)
	s.connMgr = NewWSConnMgr(s.logger)
	s.server = NewServer(
		jsonrpc.NewHandler[rtcContext](s.logger),
		s.connMgr,
		s.roomSvc,
		s.logger,
	)
}

func (s *SignalServerSuite) TearDownTest() {
	s.roomSvc.Close()
}

func signalClaims(roomID string, role rooms.Role, jti, name string) *jwt.Payload {
	return &jwt.Payload{
		RoomID: roomID,
		Role:   string(role),
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:      jti,
			Subject: name,
		},
	}
}

func (s *SignalServerSuite) newClient(roomID string, role rooms.Role, jti, connID string) (*mockMethodCtx, *rtcContext) {
	rtcCtx := &rtcContext{
		reqCtx:      context.Background(),
		connID:      connID,
		claims:      signalClaims(roomID, role, jti, string(role)+"-name"),
		chatLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		netLimiter:  rate.NewLimiter(rate.Every(2*time.Second), 2),
	}
	peer := &mockConn{context: rtcCtx}
	return &mockMethodCtx{rtcCtx: rtcCtx, peer: peer}, rtcCtx
}

type mockMethodCtx struct {
	rtcCtx *rtcContext
	peer   jsonrpc.Conn[rtcContext]
}

func (m *mockMethodCtx) Get() *rtcContext {
	return m.rtcCtx
}

func (m *mockMethodCtx) Set(ctx *rtcContext) {
	m.rtcCtx = ctx
}

func (m *mockMethodCtx) Peer() jsonrpc.Conn[rtcContext] {
	return m.peer
}

func rawParams(v interface{}) *json.RawMessage {
	b, _ := json.Marshal(v)
	raw := json.RawMessage(b)
	return &raw
}

// join admits one client and wires it into the connection manager.
func (s *SignalServerSuite) join(roomID string, role rooms.Role, jti, connID string) (*mockMethodCtx, *rtcContext) {
	mctx, rtcCtx := s.newClient(roomID, role, jti, connID)
	params := rawParams(map[string]interface{}{"consent": true})

	res, err := s.server.handleJoin(mctx, params)
	s.Require().NoError(err)

	resMap, ok := res.(map[string]interface{})
	s.Require().True(ok)
	s.Require().Equal(true, resMap["admitted"])
	return mctx, rtcCtx
}

func (s *SignalServerSuite) TestOpen() {
	err := s.server.Open(context.Background())
	s.NoError(err)
}

func (s *SignalServerSuite) TestHandleJoin_AlreadyJoined() {
	mctx, rtcCtx := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")
	rtcCtx.joined = true

	res, err := s.server.handleJoin(mctx, nil)
	s.Error(err)
	s.Nil(res)
}

func (s *SignalServerSuite) TestHandleJoin_InvalidParams() {
	mctx, _ := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")

	invalidParams := json.RawMessage(`{invalid json}`)
	res, err := s.server.handleJoin(mctx, &invalidParams)
	s.Error(err)
	s.Nil(res)
	s.Contains(err.Error(), "invalid join parameters")
}

func (s *SignalServerSuite) TestHandleJoin_Success() {
	mctx, rtcCtx := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")

	res, err := s.server.handleJoin(mctx, rawParams(map[string]interface{}{
		"name": "Interview Bot",
	}))
	s.NoError(err)

	resMap, ok := res.(map[string]interface{})
	s.Require().True(ok)
	s.Equal(true, resMap["admitted"])
	s.Equal("conn1", resMap["connId"])
	s.NotZero(resMap["startMs"])

	s.True(rtcCtx.joined)
	_, ok = s.connMgr.GetPeer("room1", "conn1")
	s.True(ok)
}

func (s *SignalServerSuite) TestHandleJoin_ConsentRequired() {
	mctx, rtcCtx := s.newClient("room1", rooms.RoleCandidate, "jti-1", "conn1")

	res, err := s.server.handleJoin(mctx, rawParams(map[string]interface{}{
		"consent": false,
	}))
	s.NoError(err)

	resMap, ok := res.(map[string]interface{})
	s.Require().True(ok)
	s.Equal(false, resMap["admitted"])
	s.Equal(rooms.DenyConsentRequired, resMap["reason"])

	// Denied join keeps the connection open but out of the room group
	s.False(rtcCtx.joined)
	_, ok = s.connMgr.GetPeer("room1", "conn1")
	s.False(ok)
}

func (s *SignalServerSuite) TestHandleJoin_EarlyEchoesSchedule() {
	mctx, _ := s.newClient("room1", rooms.RoleRecruiter, "jti-1", "conn1")
	// claim timestamps carry whole seconds
	sched := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	mctx.rtcCtx.claims.NotBefore = jwtlib.NewNumericDate(sched)

	res, err := s.server.handleJoin(mctx, nil)
	s.NoError(err)

	resMap, ok := res.(map[string]interface{})
	s.Require().True(ok)
	s.Equal(false, resMap["admitted"])
	s.Equal(rooms.DenyEarlyJoin, resMap["reason"])
	s.Equal(sched.UnixMilli(), resMap["scheduledStartMs"])
}

func (s *SignalServerSuite) TestHandleJoin_BroadcastsToPeers() {
	_, botCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")

	var gotState bool
	var gotPresence *presenceEvent
	botPeer, ok := s.connMgr.GetPeer("room1", botCtx.connID)
	s.Require().True(ok)
	botPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		switch method {
		case notifyRoomState:
			gotState = true
		case notifyPresence:
			ev := params.(presenceEvent)
			gotPresence = &ev
		}
		return nil
	}

	s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	s.True(gotState)
	s.Require().NotNil(gotPresence)
	s.Equal("joined", gotPresence.Type)
	s.Equal("conn-rec", gotPresence.ConnID)
	s.Equal(rooms.RoleRecruiter, gotPresence.Role)
}

func (s *SignalServerSuite) TestHandleJoin_ObserverTriggersReoffer() {
	_, botCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")

	var reofferFor string
	botPeer, _ := s.connMgr.GetPeer("room1", botCtx.connID)
	botPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		if method == notifyReofferRequest {
			reofferFor = params.(map[string]interface{})["observerId"].(string)
		}
		return nil
	}

	s.join("room1", rooms.RoleObserver, "jti-obs", "conn-obs")
	s.Equal("conn-obs", reofferFor)
}

func (s *SignalServerSuite) TestDuplicateConfirm_ReplacesHolder() {
	_, oldCtx := s.newClient("room1", rooms.RoleCandidate, "jti-old", "conn-old")
	oldRemoved := false
	oldClosed := false
	oldPeer := &mockConn{
		context: oldCtx,
		notifyFunc: func(_ context.Context, method string, params interface{}) error {
			if method == notifyForcedRemoval {
				oldRemoved = true
				s.Equal(removalDuplicate, params.(map[string]interface{})["reason"])
			}
			return nil
		},
		closeFunc: func() error {
			oldClosed = true
			return nil
		},
	}
	oldMctx := &mockMethodCtx{rtcCtx: oldCtx, peer: oldPeer}
	res, err := s.server.handleJoin(oldMctx, rawParams(map[string]interface{}{"consent": true}))
	s.Require().NoError(err)
	s.Equal(true, res.(map[string]interface{})["admitted"])

	// Second candidate with a different credential gets parked
	newMctx, newCtx := s.newClient("room1", rooms.RoleCandidate, "jti-new", "conn-new")
	prompted := false
	newMctx.peer.(*mockConn).notifyFunc = func(_ context.Context, method string, _ interface{}) error {
		if method == notifyDuplicatePrompt {
			prompted = true
		}
		return nil
	}
	res, err = s.server.handleJoin(newMctx, rawParams(map[string]interface{}{"consent": true}))
	s.Require().NoError(err)
	resMap := res.(map[string]interface{})
	s.Equal(false, resMap["admitted"])
	s.Equal(true, resMap["pending"])
	s.True(prompted)
	s.False(newCtx.joined)

	// Confirm evicts the old holder and admits the new one
	res, err = s.server.handleDuplicateConfirm(newMctx, rawParams(map[string]interface{}{"confirm": true}))
	s.Require().NoError(err)
	s.Equal(true, res.(map[string]interface{})["admitted"])
	s.True(newCtx.joined)
	s.True(oldRemoved)
	s.True(oldClosed)

	_, ok := s.connMgr.GetPeer("room1", "conn-old")
	s.False(ok)
	_, ok = s.connMgr.GetPeer("room1", "conn-new")
	s.True(ok)
}

func (s *SignalServerSuite) TestDuplicateConfirm_Cancel() {
	s.join("room1", rooms.RoleCandidate, "jti-old", "conn-old")

	newMctx, newCtx := s.newClient("room1", rooms.RoleCandidate, "jti-new", "conn-new")
	_, err := s.server.handleJoin(newMctx, rawParams(map[string]interface{}{"consent": true}))
	s.Require().NoError(err)

	res, err := s.server.handleDuplicateConfirm(newMctx, rawParams(map[string]interface{}{"confirm": false}))
	s.NoError(err)
	s.Equal(false, res.(map[string]interface{})["confirmed"])
	s.False(newCtx.joined)

	// Old holder is untouched
	_, ok := s.connMgr.GetPeer("room1", "conn-old")
	s.True(ok)
}

func (s *SignalServerSuite) TestDuplicateConfirm_WithoutPrompt() {
	mctx, _ := s.newClient("room1", rooms.RoleCandidate, "jti-1", "conn1")

	res, err := s.server.handleDuplicateConfirm(mctx, rawParams(map[string]interface{}{"confirm": true}))
	s.NoError(err)
	s.Equal(false, res.(map[string]interface{})["confirmed"])
}

func (s *SignalServerSuite) TestRelay_ForwardsToPeer() {
	fromMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	var gotMethod string
	var gotEnvelope relayEnvelope
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		gotMethod = method
		gotEnvelope = params.(relayEnvelope)
		return nil
	}

	handler := s.server.relayHandler("offer")
	res, err := handler(fromMctx, rawParams(map[string]interface{}{
		"to":      "conn-rec",
		"payload": map[string]string{"sdp": "offer-sdp"},
	}))
	s.NoError(err)
	s.Nil(res)
	s.Equal("offer", gotMethod)
	s.Equal("conn-bot", gotEnvelope.From)
	s.JSONEq(`{"sdp":"offer-sdp"}`, string(gotEnvelope.Payload))
}

func (s *SignalServerSuite) TestRelay_SilentDropMissingPeer() {
	fromMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")

	handler := s.server.relayHandler("icecandidate")
	res, err := handler(fromMctx, rawParams(map[string]interface{}{
		"to":      "conn-gone",
		"payload": map[string]string{"candidate": "candidate:..."},
	}))
	s.NoError(err)
	s.Nil(res)
}

func (s *SignalServerSuite) TestRelay_CrossRoomIsDropped() {
	fromMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	s.join("room2", rooms.RoleBot, "jti-other", "conn-other")

	notified := false
	otherPeer, _ := s.connMgr.GetPeer("room2", "conn-other")
	otherPeer.(*mockConn).notifyFunc = func(_ context.Context, _ string, _ interface{}) error {
		notified = true
		return nil
	}

	handler := s.server.relayHandler("answer")
	res, err := handler(fromMctx, rawParams(map[string]interface{}{
		"to":      "conn-other",
		"payload": map[string]string{"sdp": "answer-sdp"},
	}))
	s.NoError(err)
	s.Nil(res)
	s.False(notified)
}

func (s *SignalServerSuite) TestRelay_NotJoined() {
	mctx, _ := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")

	handler := s.server.relayHandler("offer")
	res, err := handler(mctx, rawParams(map[string]interface{}{
		"to":      "conn2",
		"payload": map[string]string{"sdp": "x"},
	}))
	s.Error(err)
	s.Nil(res)
	s.Contains(err.Error(), "not joined yet")
}

func (s *SignalServerSuite) TestHandlePing() {
	mctx, _ := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")

	res, err := s.server.handlePing(mctx, rawParams(map[string]interface{}{"t": 12345}))
	s.NoError(err)

	resMap := res.(map[string]interface{})
	s.Equal(int64(12345), resMap["t"])
	s.NotZero(resMap["now"])
}

func (s *SignalServerSuite) TestHandleNetReport_Broadcast() {
	fromMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	var got map[string]interface{}
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		if method == notifyNetPeer {
			got = params.(map[string]interface{})
		}
		return nil
	}

	res, err := s.server.handleNetReport(fromMctx, rawParams(map[string]interface{}{"rttMs": 350}))
	s.NoError(err)
	s.Nil(res)
	s.Require().NotNil(got)
	s.Equal("conn-bot", got["from"])
	s.Equal(350, got["rttMs"])
	s.Equal("fair", got["level"])
}

func (s *SignalServerSuite) TestHandleNetReport_Throttled() {
	fromMctx, fromCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	count := 0
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, _ interface{}) error {
		if method == notifyNetPeer {
			count++
		}
		return nil
	}

	// Burst of 2 passes, the rest is silently dropped
	fromCtx.netLimiter = rate.NewLimiter(rate.Every(2*time.Second), 2)
	for i := 0; i < 5; i++ {
		_, err := s.server.handleNetReport(fromMctx, rawParams(map[string]interface{}{"rttMs": 100}))
		s.NoError(err)
	}
	s.Equal(2, count)
}

func TestRTTLevel(t *testing.T) {
	cases := []struct {
		rttMs int
		level string
	}{
		{0, "good"},
		{200, "good"},
		{201, "fair"},
		{500, "fair"},
		{501, "poor"},
		{2000, "poor"},
	}
	for _, c := range cases {
		if got := rttLevel(c.rttMs); got != c.level {
			t.Errorf("rttLevel(%d) = %s, want %s", c.rttMs, got, c.level)
		}
	}
}

func (s *SignalServerSuite) TestHandleChatSend() {
	fromMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	var got *rooms.ChatMessage
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		if method == notifyChatMessage {
			got = params.(*rooms.ChatMessage)
		}
		return nil
	}

	res, err := s.server.handleChatSend(fromMctx, rawParams(map[string]interface{}{
		"message": "hello",
	}))
	s.NoError(err)
	s.Nil(res)
	s.Require().NotNil(got)
	s.Equal("conn-bot", got.From)
	s.Equal("hello", got.Message)
}

func (s *SignalServerSuite) TestHandleChatSend_Throttled() {
	fromMctx, fromCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	count := 0
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, _ interface{}) error {
		if method == notifyChatMessage {
			count++
		}
		return nil
	}

	fromCtx.chatLimiter = rate.NewLimiter(rate.Every(time.Second), 5)
	for i := 0; i < 8; i++ {
		_, err := s.server.handleChatSend(fromMctx, rawParams(map[string]interface{}{
			"message": "spam",
		}))
		s.NoError(err)
	}
	s.Equal(5, count)
}

func (s *SignalServerSuite) TestHandleChatHistoryOnJoin() {
	botMctx, _ := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, err := s.server.handleChatSend(botMctx, rawParams(map[string]interface{}{
		"message": "first",
	}))
	s.Require().NoError(err)

	mctx, _ := s.newClient("room1", rooms.RoleObserver, "jti-obs", "conn-obs")
	var history []rooms.ChatMessage
	mctx.peer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		if method == notifyChatHistory {
			history = params.(map[string]interface{})["messages"].([]rooms.ChatMessage)
		}
		return nil
	}

	_, err = s.server.handleJoin(mctx, nil)
	s.NoError(err)
	s.Require().Len(history, 1)
	s.Equal("first", history[0].Message)
}

func (s *SignalServerSuite) TestHandleLeave_NotJoined() {
	mctx, _ := s.newClient("room1", rooms.RoleBot, "jti-1", "conn1")

	res, err := s.server.handleLeave(mctx, nil)
	s.Error(err)
	s.Nil(res)
}

func (s *SignalServerSuite) TestHandleLeave_Success() {
	mctx, rtcCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	closed := false
	mctx.peer.(*mockConn).closeFunc = func() error {
		closed = true
		return nil
	}

	var left *presenceEvent
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = func(_ context.Context, method string, params interface{}) error {
		if method == notifyPresence {
			ev := params.(presenceEvent)
			left = &ev
		}
		return nil
	}

	res, err := s.server.handleLeave(mctx, nil)
	s.NoError(err)
	s.Nil(res)
	s.True(closed)
	s.False(rtcCtx.joined)

	_, ok := s.connMgr.GetPeer("room1", "conn-bot")
	s.False(ok)

	s.Require().NotNil(left)
	s.Equal("left", left.Type)
	s.Equal("conn-bot", left.ConnID)
}

func (s *SignalServerSuite) TestHandleAVState() {
	mctx, _ := s.join("room1", rooms.RoleCandidate, "jti-1", "conn1")

	res, err := s.server.handleAVState(mctx, rawParams(map[string]interface{}{
		"muted":    true,
		"videoOff": false,
	}))
	s.NoError(err)
	s.Nil(res)

	status, ok := s.roomSvc.GetStatus("room1")
	s.Require().True(ok)
	s.Require().Len(status.Participants, 1)
	s.True(status.Participants["conn1"].Muted)
	s.False(status.Participants["conn1"].VideoOff)
}

func (s *SignalServerSuite) TestHandlePresenceUpdate() {
	mctx, _ := s.join("room1", rooms.RoleCandidate, "jti-1", "conn1")

	res, err := s.server.handlePresenceUpdate(mctx, rawParams(map[string]interface{}{
		"name": "New Name",
	}))
	s.NoError(err)
	s.Nil(res)
}

func (s *SignalServerSuite) TestEndMeeting() {
	_, botCtx := s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")
	_, recCtx := s.join("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")

	type event struct {
		method string
		params interface{}
	}
	events := make(map[string][]event)
	record := func(connID string) func(context.Context, string, interface{}) error {
		return func(_ context.Context, method string, params interface{}) error {
			events[connID] = append(events[connID], event{method, params})
			return nil
		}
	}
	botPeer, _ := s.connMgr.GetPeer("room1", botCtx.connID)
	botPeer.(*mockConn).notifyFunc = record("conn-bot")
	recPeer, _ := s.connMgr.GetPeer("room1", recCtx.connID)
	recPeer.(*mockConn).notifyFunc = record("conn-rec")

	alreadyEnded, err := s.server.EndMeeting(context.Background(), "room1", "completed")
	s.NoError(err)
	s.False(alreadyEnded)

	for _, connID := range []string{"conn-bot", "conn-rec"} {
		var methods []string
		for _, ev := range events[connID] {
			methods = append(methods, ev.method)
		}
		s.Contains(methods, notifyMeetingEnded)
		s.Contains(methods, notifyForcedRemoval)
	}

	_, ok := s.connMgr.GetPeer("room1", "conn-bot")
	s.False(ok)
	_, ok = s.connMgr.GetPeer("room1", "conn-rec")
	s.False(ok)

	// Ending again reports the prior end without re-broadcasting
	alreadyEnded, err = s.server.EndMeeting(context.Background(), "room1", "other")
	s.NoError(err)
	s.True(alreadyEnded)
}

func (s *SignalServerSuite) TestJoinAfterMeetingEnded() {
	s.join("room1", rooms.RoleBot, "jti-bot", "conn-bot")

	_, err := s.server.EndMeeting(context.Background(), "room1", "completed")
	s.Require().NoError(err)

	mctx, _ := s.newClient("room1", rooms.RoleRecruiter, "jti-rec", "conn-rec")
	res, err := s.server.handleJoin(mctx, nil)
	s.NoError(err)

	resMap := res.(map[string]interface{})
	s.Equal(false, resMap["admitted"])
	s.Equal(rooms.DenyMeetingEnded, resMap["reason"])
}
