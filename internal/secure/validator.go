package secure

import (
	"time"

	"kidsgate.org/internal/profile"
)

// Validator holds the pure context/permission checks composed by the
// pipeline before any delegated call. None of them have side effects.
type Validator struct {
	catalog *Catalog
	now     func() time.Time
}

// NewValidator creates a validator over the given catalog.
func NewValidator(catalog *Catalog, opts ...ValidatorOption) *Validator {
	v := &Validator{catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source (useful for tests).
func WithValidatorClock(fn func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// ContextIntegrity reports whether the context is a well-formed, bound
// container: non-nil, profile bound, non-empty scope id, and a binding
// timestamp not in the future (clock-skew guard).
func (v *Validator) ContextIntegrity(c *profile.Context) bool {
	if c == nil {
		return false
	}
	if _, err := c.Current(); err != nil {
		return false
	}
	if c.ScopeID() == "" {
		return false
	}
	createdAt, err := c.CreatedAt()
	if err != nil {
		return false
	}
	return !createdAt.After(v.now())
}

// ChildPermissions reports whether the profile may run the operation.
// A missing profile or empty operation always denies.
func (v *Validator) ChildPermissions(p profile.Profile, operation string) bool {
	if p.Validate() != nil {
		return false
	}
	return v.catalog.Allowed(operation)
}

// ContextMatchesChild reports whether the context is bound to the
// expected profile's identity.
func (v *Validator) ContextMatchesChild(c *profile.Context, expected profile.Profile) bool {
	if c == nil || expected.IsZero() {
		return false
	}
	bound, err := c.Current()
	if err != nil {
		return false
	}
	return bound.Equal(expected)
}

// ContextLifetime reports whether the context is still within its
// maximum lifetime. A nil context fails.
func (v *Validator) ContextLifetime(c *profile.Context, maxLifetime time.Duration) bool {
	if c == nil || maxLifetime <= 0 {
		return false
	}
	createdAt, err := c.CreatedAt()
	if err != nil || createdAt.IsZero() {
		return false
	}
	return v.now().Sub(createdAt) <= maxLifetime
}
