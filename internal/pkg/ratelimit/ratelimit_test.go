package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Time, time.Duration) (int64, int64, error) {
	return 0, 0, errors.New("backend unreachable")
}

func testLimiter(policies map[RouteClass]Policy, counter Counter, now *time.Time) *Limiter {
	l := New(counter, policies)
	l.now = func() time.Time { return *now }
	return l
}

func TestLimiterAllow_WindowExhaustionAndRecovery(t *testing.T) {
	window := time.Minute
	policies := map[RouteClass]Policy{
		ClassIngestion: {Limit: 5, Window: window, FailOpen: true},
	}
	now := time.Unix(1700000000, 0).Truncate(window).Add(time.Second)
	l := testLimiter(policies, NewMemoryCounter(), &now)

	lastRemaining := 6
	for i := 0; i < 5; i++ {
		d := l.Allow(context.Background(), "10.0.0.1", ClassIngestion)
		if !d.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if d.Remaining > d.Limit {
			t.Fatalf("request %d: remaining %d exceeds limit %d", i+1, d.Remaining, d.Limit)
		}
		if d.Remaining >= lastRemaining {
			t.Fatalf("request %d: remaining %d did not decrease from %d", i+1, d.Remaining, lastRemaining)
		}
		if d.ResetAt.Before(now) {
			t.Fatalf("request %d: resetAt %v before now %v", i+1, d.ResetAt, now)
		}
		lastRemaining = d.Remaining
	}

	if d := l.Allow(context.Background(), "10.0.0.1", ClassIngestion); d.Allowed {
		t.Fatalf("expected request %d to be denied", 6)
	}

	// Another identifier is an independent bucket.
	if d := l.Allow(context.Background(), "10.0.0.2", ClassIngestion); !d.Allowed {
		t.Fatalf("expected different identifier to be allowed")
	}

	// After the counted windows fully age out, the identifier recovers.
	now = now.Add(2 * window)
	if d := l.Allow(context.Background(), "10.0.0.1", ClassIngestion); !d.Allowed {
		t.Fatalf("expected request to succeed after window elapsed")
	}
}

func TestLimiterAllow_PreviousWindowWeighting(t *testing.T) {
	window := time.Minute
	policies := map[RouteClass]Policy{
		ClassIngestion: {Limit: 5, Window: window, FailOpen: true},
	}
	now := time.Unix(1700000000, 0).Truncate(window)
	l := testLimiter(policies, NewMemoryCounter(), &now)

	for i := 0; i < 7; i++ {
		l.Allow(context.Background(), "10.0.0.1", ClassIngestion)
	}

	// Right after the window boundary the previous window still weighs in:
	// an overdrawn previous bucket must keep the identifier throttled.
	now = now.Add(window + time.Second)
	if d := l.Allow(context.Background(), "10.0.0.1", ClassIngestion); d.Allowed {
		t.Fatalf("expected sliding window to still throttle just past the boundary")
	}
}

func TestLimiterAllow_FailurePolicy(t *testing.T) {
	policies := map[RouteClass]Policy{
		ClassIngestion: {Limit: 5, Window: time.Minute, FailOpen: true},
		ClassRealtime:  {Limit: 5, Window: time.Minute, FailOpen: false},
	}
	now := time.Unix(1700000000, 0)
	l := testLimiter(policies, failingCounter{}, &now)

	if d := l.Allow(context.Background(), "10.0.0.1", ClassIngestion); !d.Allowed {
		t.Fatalf("ingestion class must fail open when the backend is down")
	}
	if d := l.Allow(context.Background(), "10.0.0.1", ClassRealtime); d.Allowed {
		t.Fatalf("realtime class must fail closed when the backend is down")
	}
}

func TestDecisionRetryAfter(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := Decision{ResetAt: now.Add(30 * time.Second)}
	if got := d.RetryAfter(now); got != 30*time.Second {
		t.Fatalf("expected 30s retry hint, got %v", got)
	}

	past := Decision{ResetAt: now.Add(-time.Second)}
	if got := past.RetryAfter(now); got != time.Second {
		t.Fatalf("expected minimum 1s retry hint, got %v", got)
	}
}

func TestMemoryCounter_WindowRollover(t *testing.T) {
	c := NewMemoryCounter()
	window := time.Minute
	w0 := time.Unix(1700000000, 0).Truncate(window)

	for i := int64(1); i <= 3; i++ {
		current, previous, err := c.Incr(context.Background(), "k", w0, window)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if current != i || previous != 0 {
			t.Fatalf("w0 incr %d: got current=%d previous=%d", i, current, previous)
		}
	}

	current, previous, err := c.Incr(context.Background(), "k", w0.Add(window), window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current != 1 || previous != 3 {
		t.Fatalf("w1 incr: got current=%d previous=%d, want 1/3", current, previous)
	}

	// Skipping more than one window clears both buckets.
	current, previous, err = c.Incr(context.Background(), "k", w0.Add(3*window), window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if current != 1 || previous != 0 {
		t.Fatalf("stale bucket: got current=%d previous=%d, want 1/0", current, previous)
	}
}
