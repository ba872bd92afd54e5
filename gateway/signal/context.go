package signal

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/meetbridge/interview-gateway/gateway/rooms"
	"github.com/meetbridge/interview-gateway/internal/jwt"
)

// rtcContext is the per-connection state shared by every RPC handler
// on one WebSocket. Handlers for a connection run single threaded.
type rtcContext struct {
	reqCtx context.Context
	connID string
	claims *jwt.Payload
	joined bool

	chatLimiter *rate.Limiter
	netLimiter  *rate.Limiter
}

func (c *rtcContext) roomID() string {
	return c.claims.RoomID
}

func (c *rtcContext) role() rooms.Role {
	return rooms.Role(c.claims.Role)
}
