// Package file implements the storage interfaces on flock-guarded JSON state
// files, the default zero-infrastructure backend.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/infra/statefile"
	"github.com/vietddude/relay/internal/infra/storage"
)

const planIDLen = 20

// PlanStore persists plans in one JSON document keyed by plan id.
type PlanStore struct {
	store *statefile.Store
	ttl   time.Duration

	now func() time.Time
}

// NewPlanStore creates a file-backed plan store with the given TTL.
func NewPlanStore(path string, ttl time.Duration) *PlanStore {
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &PlanStore{
		store: statefile.New(path),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create persists a new pending plan. The id comes from a high-entropy hash
// of tenant, method, params, timestamp and a random salt.
func (s *PlanStore) Create(ctx context.Context, tenant, method string, params map[string]any, risk string, allowlisted bool, packs []string) (*domain.Plan, error) {
	now := s.now().Unix()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode plan params: %w", err)
	}
	seed := fmt.Sprintf("%s|%s|%s|%s|%d|%s", tenant, method, risk, paramsJSON, now, uuid.NewString())
	sum := sha256.Sum256([]byte(seed))

	plan := &domain.Plan{
		ID:          hex.EncodeToString(sum[:])[:planIDLen],
		Tenant:      tenant,
		Method:      method,
		Params:      params,
		Risk:        risk,
		Allowlisted: allowlisted,
		Packs:       append([]string{}, packs...),
		CreatedAt:   now,
		ExpiresAt:   now + int64(s.ttl.Seconds()),
	}

	err = s.store.Mutate(ctx, func(data []byte) (any, error) {
		plans := decodePlans(data, now)
		plans[plan.ID] = plan
		return plans, nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// Consume flips the plan to executed exactly once and returns it. Expired
// plans are purged on every access.
func (s *PlanStore) Consume(ctx context.Context, planID, tenant string) (*domain.Plan, error) {
	now := s.now().Unix()
	var consumed *domain.Plan

	err := s.store.Mutate(ctx, func(data []byte) (any, error) {
		plans := decodePlans(data, now)
		plan, ok := plans[planID]
		if !ok {
			return nil, fmt.Errorf("plan %q: %w", planID, storage.ErrPlanNotFound)
		}
		if plan.Tenant != tenant {
			return nil, storage.ErrPlanTenantMismatch
		}
		if plan.Executed {
			return nil, fmt.Errorf("plan %q: %w", planID, storage.ErrPlanExecuted)
		}
		plan.Executed = true
		plan.ExecutedAt = now
		consumed = plan
		return plans, nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

func decodePlans(data []byte, now int64) map[string]*domain.Plan {
	plans := map[string]*domain.Plan{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &plans)
	}
	for id, plan := range plans {
		if plan == nil || plan.Expired(now) {
			delete(plans, id)
		}
	}
	return plans
}
