package secure

import (
	"context"
	"errors"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/capability"
	"kidsgate.org/internal/profile"
	"kidsgate.org/internal/ratelimit"
)

// User-safe strings returned by AI-facing operations. Raw refusal or
// provider detail never reaches the end user.
const (
	AIDenyMessage     = "Diese Anfrage kann nicht verarbeitet werden."
	AIFallbackMessage = "Die Zusammenfassung ist gerade nicht verfügbar. Bitte später erneut versuchen."
)

// SecureData guards the artifact data client for one scope.
type SecureData struct {
	pipeline *Pipeline
	inner    capability.DataClient
	pctx     *profile.Context
}

// NewSecureData wraps the inner data client with the policy pipeline.
func NewSecureData(pipeline *Pipeline, inner capability.DataClient, pctx *profile.Context) *SecureData {
	return &SecureData{pipeline: pipeline, inner: inner, pctx: pctx}
}

// ReadLetter fetches one letter artifact for the bound profile.
func (s *SecureData) ReadLetter(ctx context.Context, key string) (capability.Artifact, error) {
	return DoValue(ctx, s.pipeline, Request{
		Context:   s.pctx,
		Operation: OpReadLetter,
		Resource:  key,
		Event:     audit.EventDataAccess,
	}, func(ctx context.Context) (capability.Artifact, error) {
		bound, err := s.pctx.Current()
		if err != nil {
			return capability.Artifact{}, err
		}
		return s.inner.Read(ctx, bound, key)
	})
}

// WriteReminder stores a reminder artifact for the bound profile.
func (s *SecureData) WriteReminder(ctx context.Context, key, body string) (capability.Artifact, error) {
	return DoValue(ctx, s.pipeline, Request{
		Context:   s.pctx,
		Operation: OpWriteReminder,
		Resource:  key,
		Event:     audit.EventDataAccess,
	}, func(ctx context.Context) (capability.Artifact, error) {
		bound, err := s.pctx.Current()
		if err != nil {
			return capability.Artifact{}, err
		}
		return s.inner.Write(ctx, bound, key, body)
	})
}

// DeleteData removes an artifact belonging to the bound profile.
func (s *SecureData) DeleteData(ctx context.Context, key string) error {
	return s.pipeline.Do(ctx, Request{
		Context:   s.pctx,
		Operation: OpDeleteData,
		Resource:  key,
		Event:     audit.EventDataAccess,
	}, func(ctx context.Context) error {
		bound, err := s.pctx.Current()
		if err != nil {
			return err
		}
		return s.inner.Delete(ctx, bound, key)
	})
}

// SecureAuth guards the portal authentication client for one scope.
type SecureAuth struct {
	pipeline *Pipeline
	inner    capability.AuthClient
	pctx     *profile.Context
}

// NewSecureAuth wraps the inner auth client with the policy pipeline.
func NewSecureAuth(pipeline *Pipeline, inner capability.AuthClient, pctx *profile.Context) *SecureAuth {
	return &SecureAuth{pipeline: pipeline, inner: inner, pctx: pctx}
}

// Login opens a portal session for the bound profile.
func (s *SecureAuth) Login(ctx context.Context) (capability.Session, error) {
	return DoValue(ctx, s.pipeline, Request{
		Context:   s.pctx,
		Operation: OpAuthLogin,
		Resource:  "portal",
		Event:     audit.EventAuthenticationAttempt,
	}, func(ctx context.Context) (capability.Session, error) {
		bound, err := s.pctx.Current()
		if err != nil {
			return capability.Session{}, err
		}
		return s.inner.Login(ctx, bound)
	})
}

// CheckSession reports whether the session is still open.
func (s *SecureAuth) CheckSession(ctx context.Context, sessionID string) (bool, error) {
	return DoValue(ctx, s.pipeline, Request{
		Context:   s.pctx,
		Operation: OpAuthCheck,
		Resource:  "portal",
		Event:     audit.EventAuthenticationAttempt,
		SessionID: sessionID,
	}, func(ctx context.Context) (bool, error) {
		return s.inner.CheckSession(ctx, sessionID)
	})
}

// Logout invalidates the session.
func (s *SecureAuth) Logout(ctx context.Context, sessionID string) error {
	return s.pipeline.Do(ctx, Request{
		Context:   s.pctx,
		Operation: OpAuthLogout,
		Resource:  "portal",
		Event:     audit.EventSessionInvalidation,
		SessionID: sessionID,
	}, func(ctx context.Context) error {
		return s.inner.InvalidateSession(ctx, sessionID)
	})
}

// SecureAI guards the AI client for one scope. Input is sanitized before
// delegation, output is filtered before returning, and inner failures
// surface as a user-safe fallback message instead of raw errors.
type SecureAI struct {
	pipeline  *Pipeline
	inner     capability.AIClient
	sanitizer *Sanitizer
	pctx      *profile.Context
}

// NewSecureAI wraps the inner AI client with the policy pipeline.
func NewSecureAI(pipeline *Pipeline, inner capability.AIClient, sanitizer *Sanitizer, pctx *profile.Context) *SecureAI {
	return &SecureAI{pipeline: pipeline, inner: inner, sanitizer: sanitizer, pctx: pctx}
}

// Summarize condenses portal text for the bound profile.
func (s *SecureAI) Summarize(ctx context.Context, text string) (string, error) {
	return s.guarded(ctx, OpAISummarize, text, s.inner.Summarize)
}

// Query answers a free-form question for the bound profile.
func (s *SecureAI) Query(ctx context.Context, prompt string) (string, error) {
	return s.guarded(ctx, OpAIQuery, prompt, s.inner.Query)
}

func (s *SecureAI) guarded(ctx context.Context, operation, text string, call func(context.Context, string) (string, error)) (string, error) {
	req := Request{
		Context:   s.pctx,
		Operation: operation,
		Resource:  "ai",
		Event:     audit.EventDataAccess,
	}

	// The context is checked before the input is screened: an unset or
	// disposed scope surfaces its lifecycle error regardless of what the
	// text looks like, and nothing is attributed to the system profile.
	if s.pctx == nil {
		return "", profile.ErrNotBound
	}
	if err := s.pctx.Validate(); err != nil {
		return "", err
	}

	cleaned, err := s.sanitizer.CleanInput(text)
	if err != nil {
		if errors.Is(err, ErrUnsafeInput) {
			s.pipeline.AppendSecurityEvent(ctx, req, err.Error())
			return AIDenyMessage, nil
		}
		return "", err
	}

	out, err := DoValue(ctx, s.pipeline, req, func(ctx context.Context) (string, error) {
		return call(ctx, cleaned)
	})
	if err != nil {
		// Policy refusals and lifecycle errors propagate; only the inner
		// capability's own failure is translated for the end user.
		if isPolicyError(err) {
			return "", err
		}
		return AIFallbackMessage, nil
	}
	return s.sanitizer.FilterOutput(out), nil
}

func isPolicyError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrContextIntegrity) ||
		errors.Is(err, ErrContextExpired) ||
		errors.Is(err, ratelimit.ErrLimitExceeded) ||
		errors.Is(err, profile.ErrNotBound) ||
		errors.Is(err, profile.ErrDisposed)
}
