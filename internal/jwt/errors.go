package jwt

import "github.com/meetbridge/interview-gateway/internal/errors"

const (
	ErrInvalidRequest errors.Code = "invalid request"
	ErrNoToken        errors.Code = "no token"

	// Verification failure classes.
	ErrInvalidToken  errors.Code = "invalid token" // bad signature or malformed
	ErrTokenExpired  errors.Code = "token expired"
	ErrMissingClaims errors.Code = "missing claims"
	ErrUnknownRole   errors.Code = "unknown role"
)

// IsVerificationFailure reports whether err is any of the Verify failure
// classes, for callers that only need pass/fail.
func IsVerificationFailure(err error) bool {
	for _, code := range []errors.Code{
		ErrNoToken,
		ErrInvalidToken,
		ErrTokenExpired,
		ErrMissingClaims,
		ErrUnknownRole,
	} {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}
