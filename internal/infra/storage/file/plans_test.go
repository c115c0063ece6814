package file

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/relay/internal/infra/storage"
)

func newTestPlanStore(t *testing.T) (*PlanStore, *time.Time) {
	t.Helper()
	s := NewPlanStore(filepath.Join(t.TempDir(), "plans.json"), 30*time.Minute)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestPlanCreateAndConsume(t *testing.T) {
	s, _ := newTestPlanStore(t)
	ctx := context.Background()

	params := map[string]any{"fields": map[string]any{"TITLE": "x"}}
	plan, err := s.Create(ctx, "acme", "crm.lead.add", params, "write", true, []string{"core"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(plan.ID) != planIDLen {
		t.Errorf("plan id %q length = %d, want %d", plan.ID, len(plan.ID), planIDLen)
	}
	if plan.Executed {
		t.Error("new plan must not be executed")
	}

	got, err := s.Consume(ctx, plan.ID, "acme")
	if err != nil {
		t.Fatalf("Consume error: %v", err)
	}
	if got.Method != "crm.lead.add" || got.Risk != "write" {
		t.Errorf("consumed plan = %+v", got)
	}
	if !got.Executed || got.ExecutedAt == 0 {
		t.Error("consumed plan must be marked executed")
	}
	fields, _ := got.Params["fields"].(map[string]any)
	if fields["TITLE"] != "x" {
		t.Errorf("params did not round-trip: %v", got.Params)
	}
}

func TestPlanConsumeTwiceFails(t *testing.T) {
	s, _ := newTestPlanStore(t)
	ctx := context.Background()

	plan, err := s.Create(ctx, "acme", "crm.lead.delete", map[string]any{"id": 1}, "destructive", true, nil)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := s.Consume(ctx, plan.ID, "acme"); err != nil {
		t.Fatalf("first Consume error: %v", err)
	}
	_, err = s.Consume(ctx, plan.ID, "acme")
	if !errors.Is(err, storage.ErrPlanExecuted) {
		t.Errorf("second Consume error = %v, want ErrPlanExecuted", err)
	}
}

func TestPlanConsumeTenantMismatch(t *testing.T) {
	s, _ := newTestPlanStore(t)
	ctx := context.Background()

	plan, err := s.Create(ctx, "acme", "crm.lead.add", nil, "write", true, nil)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_, err = s.Consume(ctx, plan.ID, "globex")
	if !errors.Is(err, storage.ErrPlanTenantMismatch) {
		t.Errorf("Consume error = %v, want ErrPlanTenantMismatch", err)
	}

	// The failed consume must not burn the plan for its owner.
	if _, err := s.Consume(ctx, plan.ID, "acme"); err != nil {
		t.Errorf("owner Consume after mismatch error: %v", err)
	}
}

func TestPlanConsumeUnknownID(t *testing.T) {
	s, _ := newTestPlanStore(t)
	_, err := s.Consume(context.Background(), "deadbeefdeadbeefdead", "acme")
	if !errors.Is(err, storage.ErrPlanNotFound) {
		t.Errorf("Consume error = %v, want ErrPlanNotFound", err)
	}
}

func TestPlanExpires(t *testing.T) {
	s, now := newTestPlanStore(t)
	ctx := context.Background()

	plan, err := s.Create(ctx, "acme", "crm.lead.add", nil, "write", true, nil)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	*now = now.Add(31 * time.Minute)
	_, err = s.Consume(ctx, plan.ID, "acme")
	if !errors.Is(err, storage.ErrPlanNotFound) {
		t.Errorf("expired Consume error = %v, want ErrPlanNotFound", err)
	}
}

func TestPlanIDsAreUnique(t *testing.T) {
	s, _ := newTestPlanStore(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		plan, err := s.Create(ctx, "acme", "crm.lead.add", map[string]any{"n": i}, "write", true, nil)
		if err != nil {
			t.Fatalf("Create error: %v", err)
		}
		if seen[plan.ID] {
			t.Fatalf("duplicate plan id %q", plan.ID)
		}
		seen[plan.ID] = true
	}
}
