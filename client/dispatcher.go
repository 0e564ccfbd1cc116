package client

import (
	"context"
	"errors"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// GetConcurrentJobs claims the next batch: up to the worker's concurrency of
// the oldest eligible job's name, in creation order. remaining is the loop's
// lifespan left, nil when unbounded. Under a lifespan only jobs with a
// timeout that fits inside remaining minus the lifespan buffer are eligible.
//
// A job whose worker is not registered is claimed alone so the runner fails it.
func (q *Queue) GetConcurrentJobs(ctx context.Context, remaining *time.Duration) ([]types.Job, error) {
	inactive, err := q.store.QueryAll(ctx, types.JobFilter{Statuses: []state.JobStatus{state.StatusInactive}})
	if err != nil {
		return nil, &custom_errors.StoreError{Op: "query", Err: err}
	}

	eligible := filterByLifespan(inactive, remaining)
	if len(eligible) == 0 {
		return []types.Job{}, nil
	}

	name := eligible[0].Name
	concurrency, err := q.registry.GetConcurrency(name)
	if err != nil {
		q.logger.Warn("claiming job without a registered worker", "job_id", eligible[0].ID, "job_name", name, "error", err)
		concurrency = 1
	}

	candidates := make([]types.Job, 0, concurrency)
	ids := make([]string, 0, concurrency)
	for _, job := range eligible {
		if job.Name != name {
			continue
		}
		candidates = append(candidates, job)
		ids = append(ids, job.ID)
		if len(candidates) == concurrency {
			break
		}
	}

	claimedIDs, err := q.store.Claim(ctx, ids)
	if err != nil {
		q.releaseClaimed(claimedIDs)
		return nil, &custom_errors.StoreError{Op: "claim", Err: err}
	}

	claimed := make(map[string]struct{}, len(claimedIDs))
	for _, id := range claimedIDs {
		claimed[id] = struct{}{}
	}

	batch := make([]types.Job, 0, len(claimedIDs))
	for _, job := range candidates {
		if _, ok := claimed[job.ID]; !ok {
			q.logger.Debug("job changed before it could be claimed", "job_id", job.ID, "job_name", job.Name)
			continue
		}
		job.Status = state.StatusActive
		batch = append(batch, job)
	}
	return batch, nil
}

func filterByLifespan(jobs []types.Job, remaining *time.Duration) []types.Job {
	if remaining == nil {
		return jobs
	}
	budget := *remaining - config.LifespanBuffer

	eligible := make([]types.Job, 0, len(jobs))
	for _, job := range jobs {
		timeout := job.Timeout()
		if timeout > 0 && timeout <= budget {
			eligible = append(eligible, job)
		}
	}
	return eligible
}

// releaseClaimed hands jobs back after a claim or batch that could not finish.
// Anything left ACTIVE is recovered by the next Start.
func (q *Queue) releaseClaimed(ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx := context.Background()
	inactive := state.StatusInactive
	for _, id := range ids {
		err := q.store.Update(ctx, id, types.JobPatch{Status: &inactive})
		if err != nil && !errors.Is(err, store.ErrJobNotFound) {
			q.logger.Error("failed to release claimed job", "job_id", id, "error", err)
		}
	}
}
