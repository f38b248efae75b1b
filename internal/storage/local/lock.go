package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when the cross-process lock is not acquired in
// time.
var ErrLockTimeout = errors.New("lock timeout")

const lockRetryDelay = 25 * time.Millisecond

// Lock serializes a read-modify-write cycle on name. It takes an in-process
// mutex first and then an advisory file lock on name+".lock", waiting at most
// the configured timeout for other processes. The returned function releases
// both.
func (s *Store) Lock(ctx context.Context, name string) (func(), error) {
	fullPath, err := s.Path(name + ".lock")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	m := s.mutexFor(fullPath)
	if !lockMutex(ctx, m, s.lockTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}

	fl := flock.New(fullPath)
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil || !ok {
		m.Unlock()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("lock %s: %w", name, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
	}

	return func() {
		_ = fl.Unlock()
		m.Unlock()
	}, nil
}

func (s *Store) mutexFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[path]
	if !ok {
		m = &sync.Mutex{}
		s.locks[path] = m
	}
	return m
}

// lockMutex acquires m unless ctx ends or timeout passes first.
func lockMutex(ctx context.Context, m *sync.Mutex, timeout time.Duration) bool {
	if m.TryLock() {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(lockRetryDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if m.TryLock() {
				return true
			}
		}
	}
}
