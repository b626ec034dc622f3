// Package audit holds the append-only, thread-safe event store every
// policy decision and delegated call outcome is written to. The in-memory
// log is authoritative for trail queries; an optional sink archives each
// entry to durable storage.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"kidsgate.org/internal/ids"
	"kidsgate.org/internal/obs"
)

// Sink receives a copy of every appended entry, e.g. a Postgres archive.
// Sink failures are logged and do not fail the append.
type Sink interface {
	Archive(ctx context.Context, entry Entry) error
}

// Log is the shared audit store. Appends from many scopes interleave
// safely; readers always see copies.
type Log struct {
	mu      sync.RWMutex
	entries []Entry

	sink Sink
	now  func() time.Time
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithSink forwards every appended entry to the archive sink.
func WithSink(s Sink) LogOption {
	return func(l *Log) { l.sink = s }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) LogOption {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog creates an empty audit log.
func NewLog(opts ...LogOption) *Log {
	l := &Log{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes one entry. Missing id/timestamp are filled in, an absent
// profile is attributed to SystemProfile, and the entry is mirrored to the
// structured log at its severity's level.
func (l *Log) Append(ctx context.Context, entry Entry) Entry {
	// Defaults are filled under the same lock as the append, so the
	// slice order never disagrees with the assigned timestamps.
	l.mu.Lock()
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if strings.TrimSpace(entry.Profile) == "" {
		entry.Profile = SystemProfile
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	obs.AuditEntryWritten(string(entry.Severity))
	l.emit(entry)

	if l.sink != nil {
		if err := l.sink.Archive(ctx, entry); err != nil {
			obs.Error("audit archive failed", map[string]any{
				"entry_id": entry.ID,
				"error":    err.Error(),
			})
		}
	}
	return entry
}

// Trail returns the entries for profile with timestamps in [from, to],
// in append order, regardless of interleaved writes for other profiles.
func (l *Log) Trail(profile string, from, to time.Time) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Profile != profile {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Log) emit(entry Entry) {
	fields := map[string]any{
		"type":       "audit",
		"entry_id":   entry.ID,
		"profile":    entry.Profile,
		"event_type": string(entry.EventType),
		"operation":  entry.Operation,
		"success":    entry.Success,
	}
	if entry.Resource != "" {
		fields["resource"] = entry.Resource
	}
	if entry.SessionID != "" {
		fields["session_id"] = entry.SessionID
	}
	if entry.Details != "" {
		fields["details"] = entry.Details
	}
	switch entry.Severity {
	case SeverityCritical:
		obs.Critical("audit", fields)
	case SeverityError:
		obs.Error("audit", fields)
	case SeverityWarning:
		obs.Warn("audit", fields)
	default:
		obs.Info("audit", fields)
	}
}
