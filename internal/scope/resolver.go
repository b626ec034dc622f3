package scope

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"kidsgate.org/internal/profile"
)

var (
	// ErrNotRegistered is returned when a name has no constructor.
	ErrNotRegistered = errors.New("scope: capability not registered")

	// ErrDuplicateRegistration is returned when a name is registered twice.
	ErrDuplicateRegistration = errors.New("scope: capability already registered")
)

// Constructor builds one capability instance for a scope. It may resolve
// other capabilities through the resolver it receives.
type Constructor func(r *Resolver) (any, error)

// Registry maps capability names to constructors. It is assembled once at
// startup and shared read-only by every scope.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under the given name.
func (g *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return errors.New("scope: capability name is required")
	}
	if ctor == nil {
		return errors.New("scope: constructor is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.constructors[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRegistration, name)
	}
	g.constructors[name] = ctor
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (g *Registry) MustRegister(name string, ctor Constructor) {
	if err := g.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Names returns the registered capability names, sorted.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.constructors))
	for name := range g.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (g *Registry) constructor(name string) (Constructor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ctor, ok := g.constructors[name]
	return ctor, ok
}

// Resolver is the per-scope resolution boundary. Each scope gets its own
// resolver and its own instances; nothing resolved here is ever shared
// with another scope.
type Resolver struct {
	mu        sync.Mutex
	registry  *Registry
	ctx       *profile.Context
	instances map[string]any
	resolving map[string]bool
	closed    bool
}

func newResolver(registry *Registry, ctx *profile.Context) *Resolver {
	return &Resolver{
		registry:  registry,
		ctx:       ctx,
		instances: make(map[string]any),
		resolving: make(map[string]bool),
	}
}

// Context returns the profile context bound to this scope.
func (r *Resolver) Context() *profile.Context {
	return r.ctx
}

// Resolve returns the scope-local instance for name, constructing it on
// first use. Repeated calls within the same scope return the same value.
func (r *Resolver) Resolve(name string) (any, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, profile.ErrDisposed
	}
	if inst, ok := r.instances[name]; ok {
		r.mu.Unlock()
		return inst, nil
	}
	if r.resolving[name] {
		r.mu.Unlock()
		return nil, fmt.Errorf("scope: circular resolution of %s", name)
	}
	ctor, ok := r.registry.constructor(name)
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	r.resolving[name] = true
	r.mu.Unlock()

	inst, err := ctor(r)

	r.mu.Lock()
	delete(r.resolving, name)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("scope: construct %s: %w", name, err)
	}
	if r.closed {
		r.mu.Unlock()
		closeInstance(inst)
		return nil, profile.ErrDisposed
	}
	r.instances[name] = inst
	r.mu.Unlock()
	return inst, nil
}

// Resolve returns the named instance from r asserted to type T.
func Resolve[T any](r *Resolver, name string) (T, error) {
	var zero T
	inst, err := r.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("scope: capability %s has type %T, not %T", name, inst, zero)
	}
	return typed, nil
}

func (r *Resolver) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	instances := r.instances
	r.instances = nil
	r.mu.Unlock()

	for _, inst := range instances {
		closeInstance(inst)
	}
}

func closeInstance(inst any) {
	if c, ok := inst.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}
