// Package coordinator fans work out over the configured child profiles.
// Each unit of work gets its own scope, opened right before the work and
// torn down right after, so concurrent work for different children never
// shares mutable state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"kidsgate.org/internal/obs"
	"kidsgate.org/internal/profile"
	"kidsgate.org/internal/scope"
)

// ErrUnknownProfile is returned when a profile id is not on the roster.
var ErrUnknownProfile = errors.New("coordinator: unknown profile")

// defaultParallelism bounds concurrent scopes during fan-out.
const defaultParallelism = 8

// Coordinator owns the roster of child profiles and the capability
// registry scopes resolve from.
type Coordinator struct {
	registry    *scope.Registry
	roster      []profile.Profile
	byID        map[string]profile.Profile
	parallelism int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithParallelism bounds how many scopes run at once during fan-out.
func WithParallelism(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// New validates the roster and builds the coordinator. Profile ids must
// be unique; an invalid profile fails construction rather than first use.
func New(registry *scope.Registry, roster []profile.Profile, opts ...Option) (*Coordinator, error) {
	if registry == nil {
		return nil, errors.New("coordinator: registry is required")
	}
	if len(roster) == 0 {
		return nil, errors.New("coordinator: at least one profile is required")
	}
	byID := make(map[string]profile.Profile, len(roster))
	for _, p := range roster {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("coordinator: roster profile %q: %w", p.ID, err)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, fmt.Errorf("coordinator: duplicate profile id %q", p.ID)
		}
		byID[p.ID] = p
	}
	c := &Coordinator{
		registry:    registry,
		roster:      append([]profile.Profile(nil), roster...),
		byID:        byID,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Roster returns a copy of the configured profiles.
func (c *Coordinator) Roster() []profile.Profile {
	return append([]profile.Profile(nil), c.roster...)
}

// Profile looks up a roster profile by stable id.
func (c *Coordinator) Profile(id string) (profile.Profile, error) {
	p, ok := c.byID[id]
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, id)
	}
	return p, nil
}

// ExecuteInScope runs fn inside a fresh scope for the given profile id.
// The scope is closed before returning, regardless of fn's outcome.
func (c *Coordinator) ExecuteInScope(ctx context.Context, profileID string, fn scope.Operation) error {
	p, err := c.Profile(profileID)
	if err != nil {
		return err
	}
	s, err := scope.New(p, c.registry)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			obs.Error("scope_close_failed", map[string]any{
				"profile_id": p.ID,
				"scope_id":   s.ID(),
				"error":      cerr.Error(),
			})
		}
	}()
	return s.Execute(ctx, fn)
}

// ExecuteInScopeValue is ExecuteInScope for operations with a result.
func ExecuteInScopeValue[T any](ctx context.Context, c *Coordinator, profileID string, fn func(ctx context.Context, r *scope.Resolver) (T, error)) (T, error) {
	var out T
	err := c.ExecuteInScope(ctx, profileID, func(ctx context.Context, r *scope.Resolver) error {
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

// ExecuteForAll runs fn once per roster profile, each inside its own
// scope. One profile's failure never stops the others; the returned map
// holds the per-profile outcome keyed by profile id, nil on success.
func (c *Coordinator) ExecuteForAll(ctx context.Context, fn scope.Operation) map[string]error {
	results := make(map[string]error, len(c.roster))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, p := range c.roster {
		p := p
		g.Go(func() error {
			err := c.ExecuteInScope(gctx, p.ID, fn)
			mu.Lock()
			results[p.ID] = err
			mu.Unlock()
			// Failures are recorded, not returned, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HealthCheck opens one probe scope and reports whether each named
// capability can be resolved inside it. The probe uses the first roster
// profile; resolved instances are disposed with the scope.
func (c *Coordinator) HealthCheck(ctx context.Context, names []string) (map[string]bool, error) {
	if len(names) == 0 {
		names = c.registry.Names()
	}
	health := make(map[string]bool, len(names))
	err := c.ExecuteInScope(ctx, c.roster[0].ID, func(ctx context.Context, r *scope.Resolver) error {
		for _, name := range names {
			_, rerr := r.Resolve(name)
			health[name] = rerr == nil
			if rerr != nil {
				obs.Warn("capability_unhealthy", map[string]any{
					"capability": name,
					"error":      rerr.Error(),
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return health, nil
}

// Unhealthy returns the sorted names reported false in a health map.
func Unhealthy(health map[string]bool) []string {
	var down []string
	for name, ok := range health {
		if !ok {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}
