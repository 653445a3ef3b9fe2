// ABOUTME: Process-wide advisory lock keyed by remote account id
// ABOUTME: Serializes sync passes and change-triggered writes for the same account
package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// AccountLocks hands out one exclusive lock per remote account.
type AccountLocks struct {
	mu    stdsync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewAccountLocks creates an empty lock table.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (l *AccountLocks) get(accountID string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[accountID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[accountID] = sem
	}
	return sem
}

// Acquire takes the lock for accountID, waiting at most wait. A zero wait
// fails immediately when the lock is held. Returns ErrAccountBusy on timeout.
func (l *AccountLocks) Acquire(ctx context.Context, accountID string, wait time.Duration) (func(), error) {
	sem := l.get(accountID)
	release := func() { sem.Release(1) }

	if wait <= 0 {
		if !sem.TryAcquire(1) {
			return nil, ErrAccountBusy
		}
		return release, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrAccountBusy
		}
		return nil, err
	}
	return release, nil
}

// TryAcquire takes the lock only if it is free.
func (l *AccountLocks) TryAcquire(accountID string) (func(), bool) {
	sem := l.get(accountID)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
