package rooms

import (
	"github.com/meetbridge/interview-gateway/internal/jwt"
)

// RequestFromClaims maps a verified token payload onto a JoinRequest.
// ConnID, Name override and Consent are filled in by the caller.
func RequestFromClaims(p *jwt.Payload) *JoinRequest {
	req := &JoinRequest{
		RoomID:   p.RoomID,
		Role:     Role(p.Role),
		TokenID:  p.TokenID(),
		Name:     p.DisplayName(),
		GraceMin: p.GraceMin,
	}
	if t, ok := p.ScheduledStart(); ok {
		req.ScheduledStart = t
		req.HasSchedule = true
	}
	if t, ok := p.Expiry(); ok {
		req.Expiry = t
		req.HasExpiry = true
	}
	return req
}
