// Package statefile persists small JSON documents shared by multiple
// processes. Every read-modify-write cycle runs under an exclusive advisory
// file lock, which keeps cross-process coordination safe without a separate
// coordination service.
package statefile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 10 * time.Millisecond

// Store is one flock-guarded JSON document on disk.
type Store struct {
	path string

	// flock tracks lock state per handle, so goroutines sharing one Store
	// must additionally serialize in-process.
	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a store for the given path. The lock lives in a sidecar file so
// the atomic rename in Mutate never swaps the locked inode out from under a
// concurrent locker.
func New(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Read locks the document and passes its raw contents to fn. A missing file
// yields empty contents.
func (s *Store) Read(ctx context.Context, fn func(data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read state %s: %w", s.path, err)
	}
	return fn(data)
}

// Mutate locks the document, passes its raw contents to fn, and atomically
// replaces the file with the JSON encoding of the value fn returns. The lock
// is held for the whole read-modify-write cycle.
func (s *Store) Mutate(ctx context.Context, fn func(data []byte) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read state %s: %w", s.path, err)
	}

	next, err := fn(data)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", s.path, err)
	}
	return writeAtomic(s.path, buf)
}

func (s *Store) acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	ok, err := s.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("lock state %s: %w", s.path, err)
	}
	if !ok {
		return fmt.Errorf("lock state %s: not acquired", s.path)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state %s: %w", path, err)
	}
	return nil
}

// AppendLine appends one line to an append-only log under an exclusive lock.
// Rows are never mutated afterwards.
func AppendLine(ctx context.Context, path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("lock log %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("lock log %s: not acquired", path)
	}
	defer lock.Unlock()

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", path, err)
	}
	defer fh.Close()

	if _, err := fh.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append log %s: %w", path, err)
	}
	return nil
}
