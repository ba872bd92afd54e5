package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth issues and verifies signed admission tokens.
type Auth interface {
	Sign(p SignParams) (string, error)
	Verify(tokenString string) (*Payload, error)
}

// SignParams describes one admission token to mint.
type SignParams struct {
	RoomID string
	Role   string
	// Subject display name shown to other participants.
	Name string
	// Scheduled meeting start; zero means "valid immediately".
	NotBefore time.Time
	// Token lifetime measured from now.
	TTL time.Duration
	// Optional grace window (minutes) granted past the scheduled start.
	GraceMinutes int
}

// Payload is the verified claim set of an admission token.
// The registered "jti" claim ties the credential to a role-slot binding,
// "sub" carries the display name, "nbf"/"exp" bound the admission window.
type Payload struct {
	RoomID   string `json:"roomId"`
	Role     string `json:"role"`
	GraceMin int    `json:"graceMin,omitempty"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim.
func (p *Payload) TokenID() string {
	return p.ID
}

// DisplayName returns the subject claim.
func (p *Payload) DisplayName() string {
	return p.Subject
}

// ScheduledStart returns the not-before time, if the token carries one.
func (p *Payload) ScheduledStart() (time.Time, bool) {
	if p.NotBefore == nil {
		return time.Time{}, false
	}
	return p.NotBefore.Time, true
}

// Expiry returns the expiry time, if the token carries one.
func (p *Payload) Expiry() (time.Time, bool) {
	if p.ExpiresAt == nil {
		return time.Time{}, false
	}
	return p.ExpiresAt.Time, true
}
