// Package scope provides the per-profile execution boundary: every unit of
// work runs inside a Scope that exclusively owns one bound profile context
// and a private resolver for the capabilities it touches. Scopes for
// different profiles share nothing except the audit log and the rate
// limiter, which are append/increment-only.
package scope

import (
	"context"
	"errors"
	"sync"

	"kidsgate.org/internal/obs"
	"kidsgate.org/internal/profile"
)

// ErrNilOperation is returned when Execute receives a nil function.
var ErrNilOperation = errors.New("scope: operation is required")

// Operation is a unit of work executed inside a scope. It receives the
// scope's resolver and may block on capability I/O.
type Operation func(ctx context.Context, r *Resolver) error

// Scope binds one profile context into a fresh resolution boundary and
// runs caller-supplied operations inside it.
type Scope struct {
	profileCtx *profile.Context
	resolver   *Resolver

	mu     sync.Mutex
	closed bool
}

// ScopeOption configures a Scope during construction.
type ScopeOption func(*options)

type options struct {
	ctxOpts []profile.ContextOption
}

// WithContextOptions forwards options to the scope's profile context.
func WithContextOptions(opts ...profile.ContextOption) ScopeOption {
	return func(o *options) {
		o.ctxOpts = append(o.ctxOpts, opts...)
	}
}

// New creates a scope for the given profile: it allocates a fresh context,
// binds the profile immediately and prepares the resolver boundary.
// Construction fails when the profile is invalid or the registry is nil.
func New(p profile.Profile, registry *Registry, opts ...ScopeOption) (*Scope, error) {
	if registry == nil {
		return nil, errors.New("scope: registry is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	profileCtx := profile.NewContext(o.ctxOpts...)
	if err := profileCtx.Bind(p); err != nil {
		return nil, err
	}
	s := &Scope{
		profileCtx: profileCtx,
		resolver:   newResolver(registry, profileCtx),
	}
	obs.ScopeOpened()
	return s, nil
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string {
	return s.profileCtx.ScopeID()
}

// Context returns the profile context owned by this scope.
func (s *Scope) Context() *profile.Context {
	return s.profileCtx
}

// Execute runs fn inside the scope. Errors raised by fn propagate
// unchanged. Calling Execute after Close fails with profile.ErrDisposed
// before fn is invoked; a nil fn fails with ErrNilOperation before the
// scope is touched.
func (s *Scope) Execute(ctx context.Context, fn Operation) error {
	if fn == nil {
		return ErrNilOperation
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return profile.ErrDisposed
	}
	s.mu.Unlock()

	if err := fn(ctx, s.resolver); err != nil {
		obs.ScopeExecution("error")
		return err
	}
	obs.ScopeExecution("ok")
	return nil
}

// ExecuteValue runs fn inside s and returns its result.
func ExecuteValue[T any](ctx context.Context, s *Scope, fn func(ctx context.Context, r *Resolver) (T, error)) (T, error) {
	var out T
	if fn == nil {
		return out, ErrNilOperation
	}
	err := s.Execute(ctx, func(ctx context.Context, r *Resolver) error {
		v, err := fn(ctx, r)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Close tears down the resolution boundary, disposing every resolved
// instance and the profile context. It is idempotent and never blocks on
// in-flight operations: subsequent context access fails fast instead.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.resolver.close()
	err := s.profileCtx.Close()
	obs.ScopeClosed()
	return err
}
