package limiter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vietddude/relay/internal/core/metrics"
	"github.com/vietddude/relay/internal/infra/statefile"
)

type bucket struct {
	Last   float64 `json:"last"`
	Tokens float64 `json:"tokens"`
}

// FileTokenBucket is a cross-process token bucket keyed by tenant, backed by
// a flock-guarded JSON state file. Stale keys are evicted opportunistically
// on every mutation, bounding growth from short-lived tenant keys.
type FileTokenBucket struct {
	store *statefile.Store
	rate  float64
	burst float64
	ttl   time.Duration

	now func() time.Time
}

// NewFileTokenBucket creates a file-backed limiter refilling rate tokens per
// second up to burst. Keys untouched for longer than ttl are evicted.
func NewFileTokenBucket(path string, rate, burst float64, ttl time.Duration) *FileTokenBucket {
	rate, burst, ttl = clampSettings(rate, burst, ttl)
	return &FileTokenBucket{
		store: statefile.New(path),
		rate:  rate,
		burst: burst,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Acquire blocks until one token is available for key. The wait duration is
// computed deterministically from the token deficit, then the reservation is
// retried.
func (l *FileTokenBucket) Acquire(ctx context.Context, key string) error {
	start := l.now()
	for {
		wait, err := l.reserve(ctx, key)
		if err != nil {
			return err
		}
		if wait <= 0 {
			metrics.LimiterWaitSeconds.WithLabelValues(key).Observe(l.now().Sub(start).Seconds())
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve consumes one token if available, otherwise returns the time needed
// to accumulate one. The whole read-modify-write cycle runs under the state
// file's exclusive lock.
func (l *FileTokenBucket) reserve(ctx context.Context, key string) (time.Duration, error) {
	now := float64(l.now().UnixNano()) / float64(time.Second)
	var wait time.Duration

	err := l.store.Mutate(ctx, func(data []byte) (any, error) {
		state := map[string]bucket{}
		if len(data) > 0 {
			// A corrupt state file resets to empty rather than wedging
			// every caller.
			_ = json.Unmarshal(data, &state)
		}

		b, ok := state[key]
		if !ok {
			b = bucket{Last: now, Tokens: l.burst}
		}

		elapsed := now - b.Last
		if elapsed < 0 {
			elapsed = 0
		}
		b.Tokens += elapsed * l.rate
		if b.Tokens > l.burst {
			b.Tokens = l.burst
		}

		if b.Tokens >= 1 {
			b.Tokens--
			wait = 0
		} else {
			wait = time.Duration((1 - b.Tokens) / l.rate * float64(time.Second))
		}
		b.Last = now
		state[key] = b

		ttlSec := l.ttl.Seconds()
		for k, v := range state {
			if k != key && now-v.Last > ttlSec {
				delete(state, k)
			}
		}
		return state, nil
	})
	return wait, err
}
