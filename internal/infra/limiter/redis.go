package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/relay/internal/core/metrics"
)

const (
	redisLockTTL   = 2 * time.Second
	redisLockRetry = 10 * time.Millisecond
)

// RedisTokenBucket runs the same token-bucket algorithm as FileTokenBucket
// with bucket state held in Redis, one JSON value per tenant key. An advisory
// lock key guards each read-modify-write cycle; eviction of stale keys is
// delegated to Redis key expiry.
type RedisTokenBucket struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	ttl    time.Duration

	now func() time.Time
}

// NewRedisTokenBucket creates a Redis-backed limiter.
func NewRedisTokenBucket(rdb *redis.Client, prefix string, rate, burst float64, ttl time.Duration) *RedisTokenBucket {
	rate, burst, ttl = clampSettings(rate, burst, ttl)
	if prefix == "" {
		prefix = "relay:limiter"
	}
	return &RedisTokenBucket{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (l *RedisTokenBucket) bucketKey(key string) string {
	return fmt.Sprintf("%s:bucket:%s", l.prefix, key)
}

func (l *RedisTokenBucket) lockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, key)
}

// Acquire blocks until one token is available for key.
func (l *RedisTokenBucket) Acquire(ctx context.Context, key string) error {
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

func (l *RedisTokenBucket) reserve(ctx context.Context, key string) (time.Duration, error) {
	if err := l.acquireLock(ctx, key); err != nil {
		return 0, err
	}
	defer l.rdb.Del(context.WithoutCancel(ctx), l.lockKey(key))

	now := float64(l.now().UnixNano()) / float64(time.Second)
	b := bucket{Last: now, Tokens: l.burst}

	raw, err := l.rdb.Get(ctx, l.bucketKey(key)).Result()
	switch {
	case err == redis.Nil:
		// first acquire for this key
	case err != nil:
		return 0, fmt.Errorf("load bucket %s: %w", key, err)
	default:
		_ = json.Unmarshal([]byte(raw), &b)
	}

	elapsed := now - b.Last
	if elapsed < 0 {
		elapsed = 0
	}
	b.Tokens += elapsed * l.rate
	if b.Tokens > l.burst {
		b.Tokens = l.burst
	}

	var wait time.Duration
	if b.Tokens >= 1 {
		b.Tokens--
	} else {
		wait = time.Duration((1 - b.Tokens) / l.rate * float64(time.Second))
	}
	b.Last = now

	buf, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("encode bucket %s: %w", key, err)
	}
	if err := l.rdb.Set(ctx, l.bucketKey(key), buf, l.ttl).Err(); err != nil {
		return 0, fmt.Errorf("store bucket %s: %w", key, err)
	}
	return wait, nil
}

func (l *RedisTokenBucket) acquireLock(ctx context.Context, key string) error {
	for {
		ok, err := l.rdb.SetNX(ctx, l.lockKey(key), "1", redisLockTTL).Result()
		if err != nil {
			return fmt.Errorf("lock bucket %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if err := sleep(ctx, redisLockRetry); err != nil {
			return err
		}
	}
}
