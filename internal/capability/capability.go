// Package capability declares the external collaborators the isolation
// core delegates to: the portal authentication client, the artifact data
// client and the AI client. The core only ever consumes these interfaces;
// their internals live behind adapters.
package capability

import (
	"context"
	"errors"
	"time"

	"kidsgate.org/internal/profile"
)

var (
	ErrNotFound       = errors.New("capability: not found")
	ErrSessionExpired = errors.New("capability: session expired")
	ErrUnavailable    = errors.New("capability: unavailable")
)

// Session is one authenticated portal session for a profile.
type Session struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Artifact is a keyed or dated item stored for a profile, e.g. a letter
// from school or a reminder.
type Artifact struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Key       string    `json:"key"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthClient drives the portal login lifecycle.
type AuthClient interface {
	Login(ctx context.Context, p profile.Profile) (Session, error)
	CheckSession(ctx context.Context, sessionID string) (bool, error)
	InvalidateSession(ctx context.Context, sessionID string) error
}

// DataClient reads and writes artifacts for the given profile.
type DataClient interface {
	Read(ctx context.Context, p profile.Profile, key string) (Artifact, error)
	Write(ctx context.Context, p profile.Profile, key, body string) (Artifact, error)
	Delete(ctx context.Context, p profile.Profile, key string) error
}

// AIClient answers questions over sanitized text.
type AIClient interface {
	Summarize(ctx context.Context, text string) (string, error)
	Query(ctx context.Context, prompt string) (string, error)
}
