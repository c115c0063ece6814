package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RetryBudget counts processing failures per dedup key in memory and
// persists the counters atomically on Flush. The worker is a single logical
// loop, so the file itself needs no advisory lock; the mutex covers
// in-process readers.
type RetryBudget struct {
	path       string
	maxRetries int

	mu     sync.Mutex
	counts map[string]int
}

// NewRetryBudget loads the persisted counters from path. A missing or corrupt
// state file starts empty.
func NewRetryBudget(path string, maxRetries int) *RetryBudget {
	if maxRetries < 1 {
		maxRetries = 1
	}
	b := &RetryBudget{
		path:       path,
		maxRetries: maxRetries,
		counts:     map[string]int{},
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &b.counts)
	}
	return b
}

// Fail increments the failure counter for key and returns the new count.
func (b *RetryBudget) Fail(ctx context.Context, key string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key]++
	return b.counts[key], nil
}

// Exhausted reports whether key has reached the retry budget.
func (b *RetryBudget) Exhausted(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[key] >= b.maxRetries, nil
}

// Clear resets the counter for key.
func (b *RetryBudget) Clear(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.counts, key)
	return nil
}

// Flush writes the counters to disk via temp file and rename.
func (b *RetryBudget) Flush(ctx context.Context) error {
	b.mu.Lock()
	data, err := json.Marshal(b.counts)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode retry budget: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create retry budget dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write retry budget: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace retry budget: %w", err)
	}
	return nil
}
