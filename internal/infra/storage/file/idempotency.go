package file

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vietddude/relay/internal/infra/statefile"
)

const (
	statusInProgress = "in_progress"
	statusDone       = "done"
)

type idempotencyRecord struct {
	Status    string         `json:"status"`
	UpdatedAt int64          `json:"updated_at"`
	ExpiresAt int64          `json:"expires_at"`
	Response  map[string]any `json:"response,omitempty"`
}

// IdempotencyStore keeps TTL'd replay records in one JSON document keyed by
// derived idempotency key.
type IdempotencyStore struct {
	store *statefile.Store
	ttl   time.Duration

	now func() time.Time
}

// NewIdempotencyStore creates a file-backed idempotency store.
func NewIdempotencyStore(path string, ttl time.Duration) *IdempotencyStore {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &IdempotencyStore{
		store: statefile.New(path),
		ttl:   ttl,
		now:   time.Now,
	}
}

// CheckReplay returns the cached response only for an unexpired record with
// status done. Missing, expired or in-progress records mean "proceed".
func (s *IdempotencyStore) CheckReplay(ctx context.Context, key string) (map[string]any, bool, error) {
	now := s.now().Unix()
	var response map[string]any
	var replay bool

	err := s.store.Read(ctx, func(data []byte) error {
		entries := decodeRecords(data, now)
		rec, ok := entries[key]
		if !ok || rec.Status != statusDone || rec.Response == nil {
			return nil
		}
		response = rec.Response
		replay = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return response, replay, nil
}

// Start marks key in progress.
func (s *IdempotencyStore) Start(ctx context.Context, key string) error {
	now := s.now().Unix()
	return s.store.Mutate(ctx, func(data []byte) (any, error) {
		entries := decodeRecords(data, now)
		entries[key] = idempotencyRecord{
			Status:    statusInProgress,
			UpdatedAt: now,
			ExpiresAt: now + int64(s.ttl.Seconds()),
		}
		return entries, nil
	})
}

// Done records the response for key verbatim.
func (s *IdempotencyStore) Done(ctx context.Context, key string, response map[string]any) error {
	now := s.now().Unix()
	return s.store.Mutate(ctx, func(data []byte) (any, error) {
		entries := decodeRecords(data, now)
		entries[key] = idempotencyRecord{
			Status:    statusDone,
			UpdatedAt: now,
			ExpiresAt: now + int64(s.ttl.Seconds()),
			Response:  response,
		}
		return entries, nil
	})
}

// Clear removes the record for key.
func (s *IdempotencyStore) Clear(ctx context.Context, key string) error {
	now := s.now().Unix()
	return s.store.Mutate(ctx, func(data []byte) (any, error) {
		entries := decodeRecords(data, now)
		delete(entries, key)
		return entries, nil
	})
}

func decodeRecords(data []byte, now int64) map[string]idempotencyRecord {
	entries := map[string]idempotencyRecord{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &entries)
	}
	for key, rec := range entries {
		if rec.ExpiresAt != 0 && rec.ExpiresAt < now {
			delete(entries, key)
		}
	}
	return entries
}
