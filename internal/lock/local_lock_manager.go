package lock

import (
	"context"
	"sync"
	"time"
)

const localRetryInterval = 10 * time.Millisecond

// LocalLockManager scopes locks to the current process. It backs the
// storage drivers that have no shared server to coordinate through.
type LocalLockManager struct {
	mu   sync.Mutex
	held map[int]struct{}
}

func NewLocalLockManager() *LocalLockManager {
	return &LocalLockManager{held: make(map[int]struct{})}
}

func (l *LocalLockManager) Acquire(ctx context.Context, lockID int) error {
	return acquireByPolling(ctx, l, lockID, localRetryInterval)
}

func (l *LocalLockManager) TryAcquire(_ context.Context, lockID int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lockID]; ok {
		return false, nil
	}
	l.held[lockID] = struct{}{}
	return true, nil
}

func (l *LocalLockManager) Release(_ context.Context, lockID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[lockID]; !ok {
		return ErrNotHeld
	}
	delete(l.held, lockID)
	return nil
}

func acquireByPolling(ctx context.Context, m DistributedLockManager, lockID int, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		ok, err := m.TryAcquire(ctx, lockID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
