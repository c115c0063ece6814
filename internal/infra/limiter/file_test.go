package limiter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestBucket(t *testing.T, rate, burst float64) (*FileTokenBucket, *time.Time) {
	t.Helper()
	l := NewFileTokenBucket(filepath.Join(t.TempDir(), "limiter.json"), rate, burst, time.Hour)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestReserveBurstThenWait(t *testing.T) {
	l, _ := newTestBucket(t, 2.0, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		wait, err := l.reserve(ctx, "acme")
		if err != nil {
			t.Fatalf("reserve %d error: %v", i, err)
		}
		if wait != 0 {
			t.Fatalf("reserve %d wait = %v, want 0 (inside burst)", i, wait)
		}
	}

	// Bucket is empty; the next token takes 1/rate = 500ms to accumulate.
	wait, err := l.reserve(ctx, "acme")
	if err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	if wait != 500*time.Millisecond {
		t.Errorf("wait = %v, want 500ms", wait)
	}
}

func TestReserveRefillsOverTime(t *testing.T) {
	l, now := newTestBucket(t, 2.0, 10)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := l.reserve(ctx, "acme"); err != nil {
			t.Fatalf("reserve error: %v", err)
		}
	}

	*now = now.Add(time.Second) // refills 2 tokens
	for i := 0; i < 2; i++ {
		wait, err := l.reserve(ctx, "acme")
		if err != nil {
			t.Fatalf("reserve error: %v", err)
		}
		if wait != 0 {
			t.Errorf("refilled reserve %d wait = %v, want 0", i, wait)
		}
	}
	wait, err := l.reserve(ctx, "acme")
	if err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	if wait <= 0 {
		t.Errorf("third reserve after 1s refill should wait, got %v", wait)
	}
}

func TestReserveCapsAtBurst(t *testing.T) {
	l, now := newTestBucket(t, 2.0, 5)
	ctx := context.Background()

	if _, err := l.reserve(ctx, "acme"); err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	*now = now.Add(time.Hour) // far more than needed to refill

	for i := 0; i < 5; i++ {
		wait, err := l.reserve(ctx, "acme")
		if err != nil {
			t.Fatalf("reserve error: %v", err)
		}
		if wait != 0 {
			t.Fatalf("reserve %d wait = %v, want 0 (bucket refilled to burst)", i, wait)
		}
	}
	wait, _ := l.reserve(ctx, "acme")
	if wait <= 0 {
		t.Error("sixth reserve should wait, refill must cap at burst")
	}
}

func TestReserveKeysAreIndependent(t *testing.T) {
	l, _ := newTestBucket(t, 2.0, 1)
	ctx := context.Background()

	if wait, _ := l.reserve(ctx, "acme"); wait != 0 {
		t.Fatalf("first tenant wait = %v, want 0", wait)
	}
	if wait, _ := l.reserve(ctx, "globex"); wait != 0 {
		t.Errorf("second tenant should have its own bucket, wait = %v", wait)
	}
	if wait, _ := l.reserve(ctx, "acme"); wait == 0 {
		t.Error("exhausted tenant should wait")
	}
}

func TestReserveEvictsStaleKeys(t *testing.T) {
	l, now := newTestBucket(t, 2.0, 10)
	ctx := context.Background()

	if _, err := l.reserve(ctx, "stale"); err != nil {
		t.Fatalf("reserve error: %v", err)
	}
	*now = now.Add(2 * time.Hour) // past the 1h ttl
	if _, err := l.reserve(ctx, "active"); err != nil {
		t.Fatalf("reserve error: %v", err)
	}

	raw, err := os.ReadFile(l.store.Path())
	if err != nil {
		t.Fatalf("reading state: %v", err)
	}
	state := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if _, ok := state["stale"]; ok {
		t.Error("stale key should have been evicted")
	}
	if _, ok := state["active"]; !ok {
		t.Error("active key should remain")
	}
}

func TestAcquireWaitsForToken(t *testing.T) {
	// Real clock: burst 1, high rate keeps the wait short.
	l := NewFileTokenBucket(filepath.Join(t.TempDir(), "limiter.json"), 50, 1, time.Hour)
	ctx := context.Background()

	if err := l.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("first Acquire error: %v", err)
	}
	start := time.Now()
	if err := l.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("second Acquire returned after %v, expected to wait ~20ms", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := NewFileTokenBucket(filepath.Join(t.TempDir(), "limiter.json"), 0.1, 1, time.Hour)
	ctx := context.Background()

	if err := l.Acquire(ctx, "acme"); err != nil {
		t.Fatalf("first Acquire error: %v", err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(cancelCtx, "acme")
	if err == nil {
		t.Fatal("Acquire should fail when the context expires before a token is available")
	}
}

func TestNoopNeverBlocks(t *testing.T) {
	if err := (Noop{}).Acquire(context.Background(), "any"); err != nil {
		t.Errorf("Noop.Acquire error: %v", err)
	}
}

func TestClampSettings(t *testing.T) {
	rate, burst, ttl := clampSettings(0, 0, 0)
	if rate != 0.1 || burst != 1 || ttl != time.Minute {
		t.Errorf("clampSettings floor = (%v, %v, %v)", rate, burst, ttl)
	}
	rate, burst, ttl = clampSettings(5, 20, time.Hour)
	if rate != 5 || burst != 20 || ttl != time.Hour {
		t.Errorf("clampSettings passthrough = (%v, %v, %v)", rate, burst, ttl)
	}
}
