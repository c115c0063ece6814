package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// budgetTTL bounds how long an orphaned failure counter can linger when a
// dedup key stops being redelivered.
const budgetTTL = 7 * 24 * time.Hour

// RetryBudget counts processing failures per dedup key in Redis, so several
// worker hosts draining the same tenant share one budget.
type RetryBudget struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int
}

// NewRetryBudget creates a Redis-backed retry budget.
func NewRetryBudget(client *Client, prefix string, maxRetries int) *RetryBudget {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if prefix == "" {
		prefix = "relay:retry_budget"
	}
	return &RetryBudget{rdb: client.rdb, prefix: prefix, maxRetries: maxRetries}
}

func (b *RetryBudget) key(dedup string) string {
	return fmt.Sprintf("%s:%s", b.prefix, dedup)
}

// Fail increments the failure counter for key and returns the new count.
func (b *RetryBudget) Fail(ctx context.Context, key string) (int, error) {
	count, err := b.rdb.Incr(ctx, b.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment retry budget %s: %w", key, err)
	}
	if err := b.rdb.Expire(ctx, b.key(key), budgetTTL).Err(); err != nil {
		return 0, fmt.Errorf("touch retry budget %s: %w", key, err)
	}
	return int(count), nil
}

// Exhausted reports whether key has reached the retry budget.
func (b *RetryBudget) Exhausted(ctx context.Context, key string) (bool, error) {
	count, err := b.rdb.Get(ctx, b.key(key)).Int()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load retry budget %s: %w", key, err)
	}
	return count >= b.maxRetries, nil
}

// Clear resets the counter for key.
func (b *RetryBudget) Clear(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("clear retry budget %s: %w", key, err)
	}
	return nil
}

// Flush is a no-op; every mutation is already durable in Redis.
func (b *RetryBudget) Flush(ctx context.Context) error {
	return nil
}
