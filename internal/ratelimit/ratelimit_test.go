package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCeilingThenDenied(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithRule("read:letter", Rule{Limit: 3, Window: time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	for i := 0; i < 3; i++ {
		if !l.Allow("child-1", "read:letter") {
			t.Fatalf("call %d unexpectedly denied", i+1)
		}
		l.Record("child-1", "read:letter")
	}
	if l.Allow("child-1", "read:letter") {
		t.Fatal("call 4 must be denied within the window")
	}
}

func TestWindowElapseAllowsAgain(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithRule("read:letter", Rule{Limit: 2, Window: time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	l.Record("child-1", "read:letter")
	l.Record("child-1", "read:letter")
	if l.Allow("child-1", "read:letter") {
		t.Fatal("expected denial at the ceiling")
	}

	now = now.Add(time.Minute)
	if !l.Allow("child-1", "read:letter") {
		t.Fatal("expected allowance after the window elapsed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithRule("read:letter", Rule{Limit: 1, Window: time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	l.Record("child-1", "read:letter")
	if l.Allow("child-1", "read:letter") {
		t.Fatal("child-1 must be throttled")
	}
	if !l.Allow("child-2", "read:letter") {
		t.Fatal("child-2 must not inherit child-1's counter")
	}
	if !l.Allow("child-1", "write:reminder") {
		t.Fatal("a different operation must not inherit the counter")
	}
}

func TestAllowDoesNotConsume(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithRule("ai:query", Rule{Limit: 1, Window: time.Minute}),
		WithClock(func() time.Time { return now }),
	)

	for i := 0; i < 5; i++ {
		if !l.Allow("child-1", "ai:query") {
			t.Fatalf("Allow consumed the allowance on check %d", i+1)
		}
	}
	l.Record("child-1", "ai:query")
	if l.Allow("child-1", "ai:query") {
		t.Fatal("expected denial after Record")
	}
}

func TestFallbackRule(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithFallback(Rule{Limit: 1, Window: time.Minute}),
		WithClock(func() time.Time { return now }),
	)
	l.Record("child-1", "unlisted:op")
	if l.Allow("child-1", "unlisted:op") {
		t.Fatal("fallback ceiling not applied")
	}
}

// Concurrent scopes must only contend on their own key: the map lock
// covers bucket lookup, the bucket's own limiter covers the counting.
func TestConcurrentKeysCountIndependently(t *testing.T) {
	const (
		workers = 16
		limit   = 10
	)
	l := New(WithFallback(Rule{Limit: limit, Window: time.Hour}))

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		profileID := fmt.Sprintf("child-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < limit; j++ {
				if !l.Allow(profileID, "read:letter") {
					errs <- fmt.Errorf("%s denied at call %d, below the ceiling", profileID, j+1)
					return
				}
				l.Record(profileID, "read:letter")
			}
			if l.Allow(profileID, "read:letter") {
				errs <- fmt.Errorf("%s allowed past the ceiling", profileID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestSweepIdleResetsCounter(t *testing.T) {
	now := time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)
	l := New(
		WithRule("read:letter", Rule{Limit: 1, Window: time.Hour}),
		WithClock(func() time.Time { return now }),
	)
	l.Record("child-1", "read:letter")
	if l.Allow("child-1", "read:letter") {
		t.Fatal("expected denial before sweep")
	}

	now = now.Add(10 * time.Minute)
	l.SweepIdle()
	if !l.Allow("child-1", "read:letter") {
		t.Fatal("expected fresh bucket after idle sweep")
	}
}
