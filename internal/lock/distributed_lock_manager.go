package lock

import (
	"context"
	"errors"
)

// ErrNotHeld is returned by Release for a lock this manager does not hold.
var ErrNotHeld = errors.New("lock not held")

// DistributedLockManager guards sections that at most one process may run at a time.
// Locks are not reentrant: a second TryAcquire of a held id reports false.
type DistributedLockManager interface {
	// Acquire blocks until the lock is held or ctx is done.
	Acquire(ctx context.Context, lockID int) error
	// TryAcquire takes the lock if it is free and reports whether it did.
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}
