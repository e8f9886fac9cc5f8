// Package admission implements per-tenant request-rate limiting with a
// fixed window counter. The counter backend is pluggable so a horizontally
// scaled deployment can share one counter across instances.
package admission

import (
	"context"
	"fmt"
	"time"
)

// CounterStore atomically increments a windowed counter and returns the
// new value. Implementations must be safe for concurrent use and must not
// read-then-write: the increment is the check-and-set primitive the
// limiter's correctness depends on.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close()
}

// Limiter is a fixed-window rate limiter keyed by tenant.
type Limiter struct {
	counter  CounterStore
	name     string
	capacity int64
	window   time.Duration
}

// NewLimiter creates a Limiter. name namespaces the counter keys so
// multiple limiters (e.g. signed vs. browser ingestion) can share one
// backend without colliding.
func NewLimiter(counter CounterStore, name string, capacity int64, window time.Duration) *Limiter {
	return &Limiter{counter: counter, name: name, capacity: capacity, window: window}
}

// Allow consumes one slot for the tenant in the current window. When the
// capacity is exceeded it returns false plus the time remaining until the
// window rolls over, to be surfaced as a retry-after hint.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, time.Duration, error) {
	now := time.Now()
	windowID := now.UnixMilli() / l.window.Milliseconds()
	key := fmt.Sprintf("trace:rl:%s:%s:%d", l.name, tenantID, windowID)

	count, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return false, 0, err
	}
	if count > l.capacity {
		windowEnd := time.UnixMilli((windowID + 1) * l.window.Milliseconds())
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}
