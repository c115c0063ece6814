package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type idempotencyRecord struct {
	Status    string         `json:"status"`
	UpdatedAt int64          `json:"updated_at"`
	Response  map[string]any `json:"response,omitempty"`
}

// IdempotencyStore keeps replay records as TTL'd Redis values, one per
// derived idempotency key. Expiry is delegated to Redis.
type IdempotencyStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewIdempotencyStore creates a Redis-backed idempotency store.
func NewIdempotencyStore(client *Client, prefix string, ttl time.Duration) *IdempotencyStore {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "relay:idempotency"
	}
	return &IdempotencyStore{rdb: client.rdb, prefix: prefix, ttl: ttl}
}

func (s *IdempotencyStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// CheckReplay returns the cached response for an unexpired record with
// status done.
func (s *IdempotencyStore) CheckReplay(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load idempotency record %s: %w", key, err)
	}

	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, nil
	}
	if rec.Status != "done" || rec.Response == nil {
		return nil, false, nil
	}
	return rec.Response, true, nil
}

// Start marks key in progress.
func (s *IdempotencyStore) Start(ctx context.Context, key string) error {
	return s.set(ctx, key, idempotencyRecord{Status: "in_progress", UpdatedAt: time.Now().Unix()})
}

// Done records the response for key verbatim.
func (s *IdempotencyStore) Done(ctx context.Context, key string, response map[string]any) error {
	return s.set(ctx, key, idempotencyRecord{Status: "done", UpdatedAt: time.Now().Unix(), Response: response})
}

// Clear removes the record for key.
func (s *IdempotencyStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("clear idempotency record %s: %w", key, err)
	}
	return nil
}

func (s *IdempotencyStore) set(ctx context.Context, key string, rec idempotencyRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(key), buf, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency record %s: %w", key, err)
	}
	return nil
}
