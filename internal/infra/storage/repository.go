// Package storage defines the persistent stores behind the call pipeline:
// execution plans, idempotency records, offline retry budgets, the
// dead-letter queue and the audit log. File- and Redis-backed implementations
// live in subpackages.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/relay/internal/core/domain"
)

var (
	// ErrPlanNotFound is returned when a plan id is unknown or expired.
	ErrPlanNotFound = errors.New("plan not found or expired")

	// ErrPlanTenantMismatch is returned when a plan belongs to another tenant.
	ErrPlanTenantMismatch = errors.New("plan tenant mismatch")

	// ErrPlanExecuted is returned when a plan was already consumed.
	ErrPlanExecuted = errors.New("plan already executed")
)

// PlanStore persists durable, expiring, single-use execution intents.
type PlanStore interface {
	// Create persists a new pending plan under a freshly generated
	// unguessable id.
	Create(ctx context.Context, tenant, method string, params map[string]any, risk string, allowlisted bool, packs []string) (*domain.Plan, error)

	// Consume atomically marks the plan executed and returns its stored
	// method/params, so the caller executes exactly what was approved.
	// It fails with ErrPlanNotFound, ErrPlanTenantMismatch or ErrPlanExecuted.
	Consume(ctx context.Context, planID, tenant string) (*domain.Plan, error)
}

// IdempotencyStore deduplicates retried client-side submissions.
type IdempotencyStore interface {
	// CheckReplay returns the cached response when an unexpired record with
	// status done exists for key. Any other state means "not a replay".
	CheckReplay(ctx context.Context, key string) (map[string]any, bool, error)

	// Start marks key in progress.
	Start(ctx context.Context, key string) error

	// Done records the response for key.
	Done(ctx context.Context, key string, response map[string]any) error

	// Clear removes the record for key, so a failed execution does not
	// block legitimate retries forever.
	Clear(ctx context.Context, key string) error
}

// RetryBudget counts processing failures per dedup key.
type RetryBudget interface {
	// Fail increments the failure counter for key and returns the new count.
	Fail(ctx context.Context, key string) (int, error)

	// Exhausted reports whether key has reached its retry budget.
	Exhausted(ctx context.Context, key string) (bool, error)

	// Clear resets the counter for key.
	Clear(ctx context.Context, key string) error

	// Flush persists the current counters to durable storage.
	Flush(ctx context.Context) error
}

// DeadLetterQueue appends records that exhausted their retry budget.
type DeadLetterQueue interface {
	Append(ctx context.Context, rec *domain.DLQRecord) error
}

// idempotencyFieldCandidates are recognized correlation fields inside params,
// checked in order.
var idempotencyFieldCandidates = []string{
	"idempotency_key",
	"IDEMPOTENCY_KEY",
	"origin_id",
	"ORIGIN_ID",
	"external_id",
	"EXTERNAL_ID",
}

// IdempotencyKeyFor derives the idempotency key for one logical write. It
// prefers an explicit caller key, then a recognized correlation field in
// params, then a deterministic content hash, so the same logical write always
// maps to the same key absent explicit override.
func IdempotencyKeyFor(tenant, method string, params map[string]any, explicitKey string) string {
	if k := strings.TrimSpace(explicitKey); k != "" {
		return fmt.Sprintf("%s|%s|%s", tenant, method, k)
	}

	for _, field := range idempotencyFieldCandidates {
		switch v := params[field].(type) {
		case string:
			return fmt.Sprintf("%s|%s|%s:%s", tenant, method, field, v)
		case float64, int, int64:
			return fmt.Sprintf("%s|%s|%s:%v", tenant, method, field, v)
		}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", tenant, method, payload))
	return fmt.Sprintf("%s|%s|auto:%s", tenant, method, hex.EncodeToString(sum[:])[:24])
}
