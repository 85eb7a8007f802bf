package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/env"
)

// RouteClass names an independently limited bucket. The webhook ingress and
// the realtime subscription endpoint each get their own so one cannot starve
// the other.
type RouteClass string

const (
	ClassIngestion RouteClass = "ingestion"
	ClassRealtime  RouteClass = "realtime"
)

// Policy configures one route class. FailOpen decides what happens when the
// counting backend is unreachable or times out.
type Policy struct {
	Limit    int
	Window   time.Duration
	FailOpen bool
}

// Decision is the admission verdict for one request. Remaining and ResetAt
// are internally consistent: Remaining <= Limit and ResetAt >= now.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the wait hint for a denied request.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return time.Second
}

// Counter is the shared counting backend. Incr bumps the counter for the
// fixed window bucket containing now and returns the current and previous
// window counts.
type Counter interface {
	Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (current, previous int64, err error)
}

// Limiter is a sliding-window admission controller. The sliding window is
// approximated by weighting the previous fixed window by the fraction of it
// still inside the sliding interval.
type Limiter struct {
	counter  Counter
	policies map[RouteClass]Policy
	timeout  time.Duration
	now      func() time.Time
}

const defaultCheckTimeout = 500 * time.Millisecond

// New creates a limiter over the given counting backend with the provided
// per-class policies.
func New(counter Counter, policies map[RouteClass]Policy) *Limiter {
	return &Limiter{
		counter:  counter,
		policies: policies,
		timeout:  defaultCheckTimeout,
		now:      time.Now,
	}
}

// DefaultPolicies reads per-class limits from the environment. The ingress
// fails open (availability favored for provider deliveries); the realtime
// class is authentication-sensitive and fails closed.
func DefaultPolicies() map[RouteClass]Policy {
	return map[RouteClass]Policy{
		ClassIngestion: {
			Limit:    envInt("RATE_LIMIT_INGESTION_MAX", 300),
			Window:   time.Duration(envInt("RATE_LIMIT_INGESTION_WINDOW_SEC", 60)) * time.Second,
			FailOpen: envBool("RATE_LIMIT_INGESTION_FAIL_OPEN", true),
		},
		ClassRealtime: {
			Limit:    envInt("RATE_LIMIT_REALTIME_MAX", 30),
			Window:   time.Duration(envInt("RATE_LIMIT_REALTIME_WINDOW_SEC", 60)) * time.Second,
			FailOpen: envBool("RATE_LIMIT_REALTIME_FAIL_OPEN", false),
		},
	}
}

// Allow decides whether the request identified by identifier may proceed
// under the given route class. The backend check is bounded by the limiter
// timeout; on backend failure the class fail policy applies instead of an
// error reaching the caller.
func (l *Limiter) Allow(ctx context.Context, identifier string, class RouteClass) Decision {
	policy, ok := l.policies[class]
	if !ok || policy.Limit <= 0 {
		return Decision{Allowed: true, Limit: policy.Limit, ResetAt: l.now()}
	}

	now := l.now()
	windowStart := now.Truncate(policy.Window)
	key := "ratelimit:" + string(class) + ":" + identifier

	checkCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	current, previous, err := l.counter.Incr(checkCtx, key, windowStart, policy.Window)
	if err != nil {
		log.Warnf("ratelimit: counter unavailable for class %s: %v", class, err)
		return Decision{
			Allowed:   policy.FailOpen,
			Limit:     policy.Limit,
			Remaining: 0,
			ResetAt:   windowStart.Add(policy.Window),
		}
	}

	// Weight the previous window by how much of it the sliding interval
	// still covers.
	elapsed := float64(now.Sub(windowStart)) / float64(policy.Window)
	estimated := current + int64(float64(previous)*(1.0-elapsed))

	remaining := int64(policy.Limit) - estimated
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   estimated <= int64(policy.Limit),
		Limit:     policy.Limit,
		Remaining: int(remaining),
		ResetAt:   windowStart.Add(policy.Window),
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	switch env.GetEnv(key, "") {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}
