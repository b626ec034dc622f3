package profile

import (
	"errors"
	"sync"
	"time"

	"kidsgate.org/internal/ids"
	"kidsgate.org/internal/obs"
)

var (
	// ErrAlreadyBound is returned when Bind is called on a context that
	// already holds a profile, even the same one.
	ErrAlreadyBound = errors.New("profile: context already bound")

	// ErrNotBound is returned when the context is used before Bind.
	ErrNotBound = errors.New("profile: context not bound")

	// ErrDisposed is returned by every accessor after Close.
	ErrDisposed = errors.New("profile: context disposed")
)

// Context is the set-once identity container bound to one execution scope.
// It moves Unset -> Bound -> Disposed; Disposed is reachable from either
// state and terminal. All methods are safe for concurrent use.
type Context struct {
	mu        sync.Mutex
	scopeID   string
	bound     *Profile
	createdAt time.Time
	disposed  bool
	now       func() time.Time
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ContextOption {
	return func(c *Context) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewContext allocates an unbound context with a fresh scope id.
func NewContext(opts ...ContextOption) *Context {
	c := &Context{
		scopeID: ids.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind assigns the profile to this context. It succeeds exactly once:
// a second call fails with ErrAlreadyBound regardless of the value, and
// any call after Close fails with ErrDisposed.
func (c *Context) Bind(p Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.bound != nil {
		obs.Error("context bind refused", map[string]any{
			"scope_id": c.scopeID,
			"bound":    c.bound.Name(),
			"attempt":  p.Name(),
		})
		return ErrAlreadyBound
	}
	if err := p.Validate(); err != nil {
		return err
	}
	bound := p
	c.bound = &bound
	c.createdAt = c.now().UTC()
	obs.Info("context bound", map[string]any{
		"scope_id": c.scopeID,
		"profile":  bound.Name(),
	})
	return nil
}

// Clear returns the context to the unset state. It exists for teardown and
// tests only; reassignment mid-use goes through a fresh scope instead.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.bound = nil
	c.createdAt = time.Time{}
}

// Validate fails when the context is unset or disposed.
func (c *Context) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.bound == nil {
		return ErrNotBound
	}
	return nil
}

// Current returns the bound profile.
func (c *Context) Current() (Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return Profile{}, ErrDisposed
	}
	if c.bound == nil {
		return Profile{}, ErrNotBound
	}
	return *c.bound, nil
}

// ScopeID returns the unique id of this context. It stays readable after
// disposal so teardown can still be attributed.
func (c *Context) ScopeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopeID
}

// CreatedAt returns the binding timestamp.
func (c *Context) CreatedAt() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return time.Time{}, ErrDisposed
	}
	return c.createdAt, nil
}

// Close clears the bound profile and marks the context disposed. Calling
// it twice is a no-op.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.bound = nil
	c.disposed = true
	return nil
}
