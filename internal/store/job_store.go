package store

import (
	"context"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/types"
)

// JobStore defines the durable table of job records used by the queue.
type JobStore interface {
	// Insert persists a new job record.
	Insert(ctx context.Context, job types.Job) error

	// BulkInsert persists a batch of job records in one transaction. Jobs whose id
	// is already stored are skipped, so writing a redelivered batch again is safe.
	BulkInsert(ctx context.Context, jobs []types.Job) error

	// FindByID returns the job with the given id, or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*types.Job, error)

	// QueryAll returns the jobs matching filter ordered by created_at, then id, ascending.
	QueryAll(ctx context.Context, filter types.JobFilter) ([]types.Job, error)

	// Claim moves each listed job from INACTIVE to ACTIVE with a compare-and-set on
	// its status and returns the ids that were actually claimed.
	Claim(ctx context.Context, ids []string) ([]string, error)

	// Update applies patch to the job with the given id.
	Update(ctx context.Context, id string, patch types.JobPatch) error

	// Delete removes the job with the given id.
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every job matching filter and returns how many were removed.
	DeleteAll(ctx context.Context, filter types.JobFilter) (int, error)

	// ReleaseActive returns every ACTIVE job to INACTIVE. It is only safe while no
	// processing loop owns the store.
	ReleaseActive(ctx context.Context) (int, error)

	// CountByStatus counts jobs grouped by status; every status is present in the result.
	CountByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// Close releases the underlying connection.
	Close() error
}
