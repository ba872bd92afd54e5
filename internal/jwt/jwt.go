package jwt

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/meetbridge/interview-gateway/internal/errors"
)

// NewAuth creates a JWT authenticator with HS256 (default).
// roles is the closed set of role values accepted at verification time; a
// token carrying any other role is rejected while parsing, never carried
// forward as an opaque string.
func NewAuth(secret string, roles []string) Auth {
	return NewAuthWithAlgorithm(secret, jwt.SigningMethodHS256, roles)
}

// NewAuthWithAlgorithm creates a JWT authenticator with the given HMAC
// algorithm (HS256/HS384/HS512).
func NewAuthWithAlgorithm(secret string, method jwt.SigningMethod, roles []string) Auth {
	return newAuthWithClock(secret, method, roles, clockwork.NewRealClock())
}

func newAuthWithClock(
	secret string,
	method jwt.SigningMethod,
	roles []string,
	clock clockwork.Clock,
) Auth {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	return &jwtAuthImpl{
		secret:        []byte(secret),
		signingMethod: method,
		roleSet:       roleSet,
		// A future "nbf" must survive parsing so admission can answer with a
		// structured "too early" instead of an opaque auth failure; expiry is
		// checked by hand below.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		clock: clock,
	}
}

type jwtAuthImpl struct {
	secret        []byte
	signingMethod jwt.SigningMethod
	roleSet       map[string]bool
	parser        *jwt.Parser
	clock         clockwork.Clock
}

// Sign mints an admission token for one role slot of one room.
func (j *jwtAuthImpl) Sign(p SignParams) (string, error) {
	if p.RoomID == "" || p.Role == "" {
		return "", errors.New(ErrInvalidRequest, "roomID and role are required")
	}
	if !j.roleSet[p.Role] {
		return "", errors.Newf(ErrInvalidRequest, "unknown role: %s", p.Role)
	}

	now := j.clock.Now()
	nbf := p.NotBefore
	if nbf.IsZero() {
		nbf = now
	}

	claims := &Payload{
		RoomID:   p.RoomID,
		Role:     p.Role,
		GraceMin: p.GraceMinutes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   p.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(nbf),
		},
	}
	if p.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(p.TTL))
	}

	token := jwt.NewWithClaims(j.signingMethod, claims)
	return token.SignedString(j.secret)
}

// Verify checks signature, algorithm, expiry, required claims and role
// membership. A not-before in the future is deliberately NOT a failure here;
// scheduling is an admission concern, not an authentication concern.
func (j *jwtAuthImpl) Verify(tokenString string) (*Payload, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := j.parser.ParseWithClaims(tokenString, &Payload{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err, "token parse failed")
	}

	claims, ok := token.Claims.(*Payload)
	if !ok || !token.Valid {
		return nil, errors.New(ErrInvalidToken, "unexpected claims type")
	}

	if claims.RoomID == "" || claims.Role == "" || claims.ID == "" {
		return nil, errors.New(ErrMissingClaims, "roomId, role and jti are required")
	}
	if !j.roleSet[claims.Role] {
		return nil, errors.Newf(ErrUnknownRole, "role not recognized: %s", claims.Role)
	}
	if exp, ok := claims.Expiry(); ok && j.clock.Now().After(exp) {
		return nil, errors.Newf(ErrTokenExpired, "token expired at %s", exp)
	}

	return claims, nil
}
