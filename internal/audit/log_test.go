package audit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAppendFillsDefaults(t *testing.T) {
	fixed := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := NewLog(WithClock(func() time.Time { return fixed }))

	entry := l.Append(context.Background(), Entry{
		EventType: EventDataAccess,
		Operation: "read:letter",
		Success:   true,
	})
	if entry.ID == "" {
		t.Fatal("expected generated id")
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %v", entry.Timestamp)
	}
	if entry.Profile != SystemProfile {
		t.Fatalf("absent profile must become %q, got %q", SystemProfile, entry.Profile)
	}
	if entry.Severity != SeverityInfo {
		t.Fatalf("unexpected default severity: %s", entry.Severity)
	}
}

func TestTrailFiltersProfileAndWindow(t *testing.T) {
	base := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	current := base
	l := NewLog(WithClock(func() time.Time { return current }))

	// Interleave writes for two profiles across a time range.
	for i := 0; i < 10; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		profile := "Alice Example"
		if i%2 == 1 {
			profile = "Bob Example"
		}
		l.Append(context.Background(), Entry{
			Profile:   profile,
			EventType: EventDataAccess,
			Operation: "read:letter",
			Success:   true,
		})
	}

	from := base.Add(2 * time.Minute)
	to := base.Add(6 * time.Minute)
	trail := l.Trail("Alice Example", from, to)
	if len(trail) != 3 {
		t.Fatalf("expected 3 entries (minutes 2,4,6), got %d", len(trail))
	}
	for _, e := range trail {
		if e.Profile != "Alice Example" {
			t.Fatalf("foreign profile leaked into trail: %q", e.Profile)
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			t.Fatalf("timestamp outside window: %v", e.Timestamp)
		}
	}
}

func TestTrailWindowIsInclusive(t *testing.T) {
	at := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := NewLog(WithClock(func() time.Time { return at }))
	l.Append(context.Background(), Entry{Profile: "Alice Example", EventType: EventDataAccess})

	if got := len(l.Trail("Alice Example", at, at)); got != 1 {
		t.Fatalf("expected boundary timestamps included, got %d entries", got)
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	const writers, perWriter = 8, 50
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			profile := "Alice Example"
			if n%2 == 1 {
				profile = "Bob Example"
			}
			for i := 0; i < perWriter; i++ {
				l.Append(context.Background(), Entry{
					Profile:   profile,
					EventType: EventDataAccess,
					Operation: "write:reminder",
				})
			}
		}(w)
	}
	wg.Wait()

	if l.Len() != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, l.Len())
	}
	alice := l.Trail("Alice Example", time.Time{}, time.Now().Add(time.Hour))
	if len(alice) != writers/2*perWriter {
		t.Fatalf("expected %d alice entries, got %d", writers/2*perWriter, len(alice))
	}
}

// Assigned timestamps must agree with the append order even when many
// writers race: the defaults are filled under the same lock as the
// slice append.
func TestConcurrentAppendsStayMonotonic(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	const writers, perWriter = 8, 50
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(context.Background(), Entry{
					Profile:   "Alice Example",
					EventType: EventDataAccess,
					Operation: "write:reminder",
				})
			}
		}()
	}
	wg.Wait()

	trail := l.Trail("Alice Example", time.Time{}, time.Now().Add(time.Hour))
	if len(trail) != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, len(trail))
	}
	for i := 1; i < len(trail); i++ {
		if trail[i].Timestamp.Before(trail[i-1].Timestamp) {
			t.Fatalf("entry %d timestamp %v precedes entry %d timestamp %v",
				i, trail[i].Timestamp, i-1, trail[i-1].Timestamp)
		}
	}
}

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *captureSink) Archive(_ context.Context, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func TestSinkReceivesEveryEntry(t *testing.T) {
	sink := &captureSink{}
	l := NewLog(WithSink(sink))
	for i := 0; i < 5; i++ {
		l.Append(context.Background(), Entry{Profile: "Alice Example", EventType: EventDataAccess})
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 5 {
		t.Fatalf("expected 5 archived entries, got %d", len(sink.entries))
	}
}
