package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kidsgate.org/internal/profile"
)

const (
	issuer            = "kidsgate"
	defaultSessionTTL = 30 * time.Minute
)

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("capability: invalid token")

// SessionClaims are the JWT claims carried by a portal session token.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// PortalAuth implements AuthClient with HS256-signed session tokens and
// an in-process session registry keyed by opaque session id.
type PortalAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// PortalAuthOption configures a PortalAuth.
type PortalAuthOption func(*PortalAuth)

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) PortalAuthOption {
	return func(a *PortalAuth) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithPortalClock overrides the time source (useful for tests).
func WithPortalClock(fn func() time.Time) PortalAuthOption {
	return func(a *PortalAuth) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewPortalAuth creates the auth client. The secret signs session tokens.
func NewPortalAuth(secret string, opts ...PortalAuthOption) (*PortalAuth, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("capability: auth secret is required")
	}
	a := &PortalAuth{
		secret:   []byte(secret),
		ttl:      defaultSessionTTL,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Login opens a session for the profile and returns its signed token.
func (a *PortalAuth) Login(ctx context.Context, p profile.Profile) (Session, error) {
	if err := p.Validate(); err != nil {
		return Session{}, err
	}
	now := a.now().UTC()
	sessionID := uuid.NewString()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	session := Session{
		ID:        sessionID,
		ProfileID: p.ID,
		Token:     signed,
		ExpiresAt: now.Add(a.ttl),
	}
	a.mu.Lock()
	a.sessions[sessionID] = session
	a.mu.Unlock()
	return session, nil
}

// CheckSession reports whether the session is still open. Expired
// sessions are removed and reported via ErrSessionExpired.
func (a *PortalAuth) CheckSession(ctx context.Context, sessionID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if a.now().After(session.ExpiresAt) {
		delete(a.sessions, sessionID)
		return false, ErrSessionExpired
	}
	return true, nil
}

// InvalidateSession closes the session. Unknown ids are a no-op.
func (a *PortalAuth) InvalidateSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	return nil
}

// ParseToken verifies a session token's signature and claims.
func (a *PortalAuth) ParseToken(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
