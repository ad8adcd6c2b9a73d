package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "revenueforge"

const defaultTokenTTL = 12 * time.Hour

// Claims represents the JWT claims carried by RevenueForge access tokens.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier is the pluggable verification boundary. Alternate signing
// schemes or key rotation replace the implementation, not the middleware.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// Tokens signs and verifies HS256 access tokens with a server-held secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
}

// NewTokens constructs the token service. The secret is required: callers
// must refuse to start without one rather than serve unverifiable auth.
func NewTokens(secret []byte) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	return &Tokens{secret: secret, now: time.Now}, nil
}

// WithClock overrides the time source. Only intended for tests.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	if now != nil {
		t.now = now
	}
	return t
}

// Issue signs a token for the given identity.
func (t *Tokens) Issue(identity Identity, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, errors.New("auth: identity id is required")
	}
	if !identity.Role.AtLeast(RoleViewer) {
		return "", time.Time{}, fmt.Errorf("auth: unknown role %q", identity.Role)
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Email: identity.Email,
		Role:  string(identity.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks the token signature and required claims. Any failure maps
// to ErrInvalidToken; callers treat that as an anonymous request and leave
// rejection to route-level authorization.
func (t *Tokens) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *Tokens) validateClaims(claims *Claims) error {
	if claims.Issuer != issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if _, ok := ParseRole(claims.Role); !ok {
		return fmt.Errorf("unknown role: %s", claims.Role)
	}
	now := t.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// IdentityFromClaims builds the request-scoped identity. Claims with a
// missing subject or unknown role report false and the caller stays
// anonymous.
func IdentityFromClaims(claims *Claims) (Identity, bool) {
	if claims == nil || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, false
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Identity{}, false
	}
	return Identity{
		ID:    claims.Subject,
		Email: strings.TrimSpace(strings.ToLower(claims.Email)),
		Role:  role,
	}, true
}
