// Package ratelimit throttles operations per (profile, operation) pair.
// Each pair owns a token bucket sized to the configured ceiling and
// refilled across the window, so a burst up to the ceiling is allowed and
// sustained traffic is smoothed. Buckets are created lazily and swept
// after sitting idle.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimitExceeded is the distinct error surfaced to callers when the
// ceiling for a (profile, operation) pair is reached. Callers may back
// off and retry; the limiter itself never retries.
var ErrLimitExceeded = errors.New("ratelimit: limit exceeded")

// Rule is the ceiling for one operation within a window.
type Rule struct {
	Limit  int           `koanf:"limit" yaml:"limit"`
	Window time.Duration `koanf:"window" yaml:"window"`
}

const (
	defaultLimit  = 30
	defaultWindow = time.Minute
	idleTTL       = 5 * time.Minute
)

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one bucket per (profile, operation) pair. Safe for
// concurrent use from many scopes; only the key's own bucket is touched
// per call.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rules    map[string]Rule
	fallback Rule
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithRule sets the ceiling for one operation name.
func WithRule(operation string, r Rule) Option {
	return func(l *Limiter) {
		if r.Limit > 0 && r.Window > 0 {
			l.rules[operation] = r
		}
	}
}

// WithRules sets ceilings for several operations at once.
func WithRules(rules map[string]Rule) Option {
	return func(l *Limiter) {
		for op, r := range rules {
			if r.Limit > 0 && r.Window > 0 {
				l.rules[op] = r
			}
		}
	}
}

// WithFallback sets the ceiling applied to operations without a rule.
func WithFallback(r Rule) Option {
	return func(l *Limiter) {
		if r.Limit > 0 && r.Window > 0 {
			l.fallback = r
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New creates a limiter with the given rules.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		rules:    make(map[string]Rule),
		fallback: Rule{Limit: defaultLimit, Window: defaultWindow},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether one more call for the pair fits the current
// window. It does not consume the allowance; call Record after the
// delegated operation succeeds.
func (l *Limiter) Allow(profileID, operation string) bool {
	b := l.bucketFor(profileID, operation)
	return b.lim.TokensAt(l.now()) >= 1
}

// Record consumes one allowance for the pair.
func (l *Limiter) Record(profileID, operation string) {
	b := l.bucketFor(profileID, operation)
	b.lim.AllowN(l.now(), 1)
}

// SweepIdle drops buckets not touched for the idle TTL; counters restart
// from a full window on next use, which is the reset-on-expiry behavior.
func (l *Limiter) SweepIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// StartSweeper sweeps idle buckets until stop is closed.
func (l *Limiter) StartSweeper(stop <-chan struct{}, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.SweepIdle()
			case <-stop:
				return
			}
		}
	}()
}

// bucketFor holds l.mu only to fetch or create the key's bucket. The
// token-bucket math itself runs outside the map lock; rate.Limiter is
// internally synchronized, so concurrent scopes only contend on their
// own key.
func (l *Limiter) bucketFor(profileID, operation string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := profileID + "\x00" + operation
	b, ok := l.buckets[key]
	if !ok {
		r, found := l.rules[operation]
		if !found {
			r = l.fallback
		}
		// A fresh bucket starts full, so the first window admits a burst
		// up to the ceiling.
		b = &bucket{
			lim: rate.NewLimiter(rate.Limit(float64(r.Limit)/r.Window.Seconds()), r.Limit),
		}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	return b
}
