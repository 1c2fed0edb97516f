// Package sweeplock serializes cache-wide sweeps (flush, garbage
// collection) across processes that share a cache root.
//
// Only sweeps take the lock. Writers and readers of single entries never
// block on it.
package sweeplock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// retryDelay is how often a waiting sweep retries the lock.
const retryDelay = 50 * time.Millisecond

// Lock is a file lock. A nil *Lock runs functions without locking.
//
// A flock.Flock reports success when the same handle already holds the
// lock, so sweeps within one process also queue on sem.
type Lock struct {
	fl  *flock.Flock
	sem chan struct{}
}

// New returns a lock backed by the file at path. The file is created on
// first use; its parent directory must exist.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path), sem: make(chan struct{}, 1)}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.fl.Path()
}

// Do runs fn while holding the lock, waiting until it is free or ctx is done.
func (l *Lock) Do(ctx context.Context, fn func() error) error {
	if l == nil {
		return fn()
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("acquiring sweep lock %s: %w", l.fl.Path(), ctx.Err())
	}
	defer func() { <-l.sem }()

	locked, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquiring sweep lock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("acquiring sweep lock %s: %w", l.fl.Path(), ctx.Err())
	}
	defer l.fl.Unlock()

	return fn()
}
