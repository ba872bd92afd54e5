package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/jsonrpc"
	wsrpc "github.com/meetbridge/interview-gateway/internal/jsonrpc/websocket"
	"github.com/meetbridge/interview-gateway/internal/jwt"
	"github.com/meetbridge/interview-gateway/internal/log"
)

func NewWSHook(
	connMgr *WSConnManager,
	roomSvc rooms.Service,
	jwtAuth jwt.Auth,
	logger *log.Logger,
) wsrpc.ConnectionHooks[rtcContext] {
	return &wsHookImpl{
		connMgr: connMgr,
		roomSvc: roomSvc,
		jwtAuth: jwtAuth,
		logger:  logger,
	}
}

type wsHookImpl struct {
	connMgr *WSConnManager
	roomSvc rooms.Service
	jwtAuth jwt.Auth
	logger  *log.Logger
}

// OnVerify authenticates before the upgrade. A failed verification is
// the one error class that never touches room state and closes the
// transport (HTTP 401, no WebSocket).
func (h *wsHookImpl) OnVerify(r *http.Request) (*rtcContext, bool, error) {
	authAttempts.Add(r.Context(), 1)

	// Extract JWT from query parameter or header
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	payload, err := h.jwtAuth.Verify(token)
	if err != nil {
		if jwt.IsVerificationFailure(err) {
			authFailures.Add(r.Context(), 1)
			return nil, false, nil
		}
		return nil, false, err
	}
	rtcCtx := &rtcContext{
		claims:      payload,
		reqCtx:      r.Context(),
		chatLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		netLimiter:  rate.NewLimiter(rate.Every(2*time.Second), 2),
	}
	return rtcCtx, true, nil
}

func (h *wsHookImpl) OnConnect(mctx jsonrpc.MethodContext[rtcContext]) {
	rtcCtx := mctx.Get()
	rtcCtx.connID = uuid.New().String()

	wsConnectionsActive.Add(context.Background(), 1)
	wsConnectionsTotal.Add(context.Background(), 1)

	h.logger.Info("Client connected",
		log.String("connId", rtcCtx.connID),
		log.String("roomId", rtcCtx.roomID()),
		log.String("role", string(rtcCtx.role())),
	)
}

// OnDisconnect runs the identical cleanup as an explicit leave; the
// room service keeps it idempotent against redundant signals.
func (h *wsHookImpl) OnDisconnect(mctx jsonrpc.MethodContext[rtcContext], closeCode int) {
	rtcCtx := mctx.Get()
	leaveAndBroadcast(h.roomSvc, h.connMgr, rtcCtx, h.logger)

	wsConnectionsActive.Add(context.Background(), -1)
	wsDisconnectsTotal.Add(context.Background(), 1)

	h.logger.Info("Client disconnected",
		log.String("connId", rtcCtx.connID),
		log.Int("closeCode", closeCode),
	)
}
