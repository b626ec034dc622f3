// Package secure enforces the per-operation security policy: every
// capability call passes through one pipeline that validates the bound
// context, checks the permission catalog, consults the rate limiter,
// delegates, and writes the outcome to the audit log. The sequence is
// implemented once here and parameterized by operation name, never
// hand-copied per capability method.
package secure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kidsgate.org/internal/audit"
	"kidsgate.org/internal/obs"
	"kidsgate.org/internal/profile"
	"kidsgate.org/internal/ratelimit"
)

var (
	// ErrPermissionDenied is the refusal for operations outside the
	// catalog. Expected and recoverable; recorded as a Warning.
	ErrPermissionDenied = errors.New("secure: permission denied")

	// ErrContextIntegrity flags a malformed or mismatched context.
	ErrContextIntegrity = errors.New("secure: context integrity check failed")

	// ErrContextExpired flags a context past its maximum lifetime.
	ErrContextExpired = errors.New("secure: context lifetime exceeded")
)

const defaultMaxContextLifetime = time.Hour

// Request describes one guarded call.
type Request struct {
	// Context is the scope's bound profile context.
	Context *profile.Context
	// Operation is the permission string checked against the catalog
	// and used as the rate-limit key.
	Operation string
	// Resource names what the operation touches, for the audit entry.
	Resource string
	// Event classifies the success/failure audit entries.
	Event audit.EventType
	// SessionID attributes the call to a portal session when one exists.
	SessionID string
}

// Pipeline performs validate -> authorize -> throttle -> delegate -> audit
// for every capability surface.
type Pipeline struct {
	validator   *Validator
	limiter     *ratelimit.Limiter
	log         *audit.Log
	maxLifetime time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithMaxContextLifetime bounds how long a bound context stays usable.
func WithMaxContextLifetime(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.maxLifetime = d
		}
	}
}

// NewPipeline assembles the interceptor.
func NewPipeline(validator *Validator, limiter *ratelimit.Limiter, log *audit.Log, opts ...PipelineOption) (*Pipeline, error) {
	if validator == nil || limiter == nil || log == nil {
		return nil, errors.New("secure: validator, limiter and audit log are required")
	}
	p := &Pipeline{
		validator:   validator,
		limiter:     limiter,
		log:         log,
		maxLifetime: defaultMaxContextLifetime,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Do runs fn under the full policy sequence. Policy refusals return
// before fn is invoked; fn's own error propagates after being audited.
func (p *Pipeline) Do(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	if req.Context == nil {
		return profile.ErrNotBound
	}
	// Lifecycle first: unset or disposed contexts fail fast, unaudited,
	// because there is no identity to attribute the entry to.
	if err := req.Context.Validate(); err != nil {
		return err
	}
	if !p.validator.ContextIntegrity(req.Context) {
		p.append(ctx, req, audit.Entry{
			EventType: audit.EventSecurityEvent,
			Severity:  audit.SeverityError,
			Details:   "context integrity check failed",
		})
		return ErrContextIntegrity
	}
	if !p.validator.ContextLifetime(req.Context, p.maxLifetime) {
		p.append(ctx, req, audit.Entry{
			EventType: audit.EventSessionTimeout,
			Severity:  audit.SeverityWarning,
			Details:   fmt.Sprintf("context older than %s", p.maxLifetime),
		})
		return ErrContextExpired
	}

	bound, err := req.Context.Current()
	if err != nil {
		return err
	}

	if !p.validator.ChildPermissions(bound, req.Operation) {
		obs.PermissionDenied(req.Operation)
		p.append(ctx, req, audit.Entry{
			EventType: audit.EventPermissionDenied,
			Severity:  audit.SeverityWarning,
			Details:   "operation not in permission catalog",
		})
		return fmt.Errorf("%w: %s", ErrPermissionDenied, req.Operation)
	}

	if !p.limiter.Allow(bound.ID, req.Operation) {
		obs.RateLimitDenied(req.Operation)
		p.append(ctx, req, audit.Entry{
			EventType: audit.EventRateLimitExceeded,
			Severity:  audit.SeverityWarning,
			Details:   "rate limit ceiling reached",
		})
		return fmt.Errorf("%w: %s", ratelimit.ErrLimitExceeded, req.Operation)
	}

	if err := fn(ctx); err != nil {
		p.append(ctx, req, audit.Entry{
			EventType: req.Event,
			Severity:  audit.SeverityError,
			Details:   err.Error(),
		})
		return err
	}

	p.limiter.Record(bound.ID, req.Operation)
	p.append(ctx, req, audit.Entry{
		EventType: req.Event,
		Severity:  audit.SeverityInfo,
		Success:   true,
	})
	return nil
}

// DoValue is Do for operations that produce a result.
func DoValue[T any](ctx context.Context, p *Pipeline, req Request, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, req, func(ctx context.Context) error {
		v, err := fn(ctx)
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

// AppendSecurityEvent writes a Critical entry for refusals detected
// upstream of delegation, e.g. unsafe AI input.
func (p *Pipeline) AppendSecurityEvent(ctx context.Context, req Request, details string) {
	p.append(ctx, req, audit.Entry{
		EventType: audit.EventSecurityEvent,
		Severity:  audit.SeverityCritical,
		Details:   details,
	})
}

// Log exposes the shared audit log for trail queries.
func (p *Pipeline) Log() *audit.Log {
	return p.log
}

func (p *Pipeline) append(ctx context.Context, req Request, entry audit.Entry) {
	entry.Operation = req.Operation
	entry.Resource = req.Resource
	entry.SessionID = req.SessionID
	if entry.Profile == "" && req.Context != nil {
		if bound, err := req.Context.Current(); err == nil {
			entry.Profile = bound.Name()
		}
	}
	p.log.Append(ctx, entry)
}
