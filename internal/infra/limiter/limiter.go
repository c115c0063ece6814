// Package limiter provides per-tenant rate limiting for upstream API calls.
//
// Two interchangeable implementations exist behind one contract: a no-op
// limiter for when shared limiting is disabled, and token buckets whose state
// is persisted externally (file or Redis) so multiple independent processes
// sharing one tenant respect one global rate.
package limiter

import (
	"context"
	"time"
)

// Limiter blocks until the given tenant key is permitted to send one request.
// It never drops a request.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
}

// Noop always permits immediately.
type Noop struct{}

func (Noop) Acquire(ctx context.Context, key string) error {
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampSettings(rate, burst float64, ttl time.Duration) (float64, float64, time.Duration) {
	if rate < 0.1 {
		rate = 0.1
	}
	if burst < 1 {
		burst = 1
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return rate, burst, ttl
}
