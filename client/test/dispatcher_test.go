package test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/firequeue/client/test/mocks"
	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

func noop(ctx context.Context, id string, payload json.RawMessage) error { return nil }

func durationPtr(d time.Duration) *time.Duration { return &d }

func TestGetConcurrentJobs_RespectsConcurrencyAndOrder(t *testing.T) {
	ctx := context.Background()
	q, s := newMemoryQueue()
	require.NoError(t, q.AddWorker("echo", noop, config.WithConcurrency(2)))
	require.NoError(t, q.AddWorker("other", noop, config.WithConcurrency(5)))

	base := time.Now()
	seedJob(t, s, "e3", "echo", 0, 1, base.Add(3*time.Millisecond))
	seedJob(t, s, "e1", "echo", 0, 1, base.Add(1*time.Millisecond))
	seedJob(t, s, "o1", "other", 0, 1, base.Add(2*time.Millisecond))
	seedJob(t, s, "e2", "echo", 0, 1, base.Add(2*time.Millisecond))

	batch, err := q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, jobIDs(batch))
	for _, job := range batch {
		assert.Equal(t, state.StatusActive, job.Status)
	}

	// the claimed jobs are ACTIVE now, so the next batch starts after them
	batch, err = q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, jobIDs(batch))

	batch, err = q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3"}, jobIDs(batch))

	batch, err = q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestGetConcurrentJobs_NeverReturnsActiveOrFailedJobs(t *testing.T) {
	ctx := context.Background()
	q, s := newMemoryQueue()
	require.NoError(t, q.AddWorker("echo", noop, config.WithConcurrency(10)))

	now := time.Now()
	seedJob(t, s, "a", "echo", 0, 1, now)
	seedJob(t, s, "b", "echo", 0, 1, now.Add(time.Millisecond))
	seedJob(t, s, "c", "echo", 0, 1, now.Add(2*time.Millisecond))
	_, err := s.Claim(ctx, []string{"a"})
	require.NoError(t, err)
	failed := state.StatusFailed
	require.NoError(t, s.Update(ctx, "c", types.JobPatch{Status: &failed}))

	batch, err := q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, jobIDs(batch))
}

func TestGetConcurrentJobs_LifespanFilter(t *testing.T) {
	ctx := context.Background()
	q, s := newMemoryQueue()
	require.NoError(t, q.AddWorker("echo", noop, config.WithConcurrency(10)))

	now := time.Now()
	seedJob(t, s, "unbounded", "echo", 0, 1, now)
	seedJob(t, s, "fits", "echo", 400*time.Millisecond, 1, now.Add(time.Millisecond))
	seedJob(t, s, "edge", "echo", 500*time.Millisecond, 1, now.Add(2*time.Millisecond))
	seedJob(t, s, "too-long", "echo", 501*time.Millisecond, 1, now.Add(3*time.Millisecond))

	batch, err := q.GetConcurrentJobs(ctx, durationPtr(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"fits", "edge"}, jobIDs(batch))

	jobs, err := s.QueryAll(ctx, types.JobFilter{Statuses: []state.JobStatus{state.StatusInactive}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"unbounded", "too-long"}, jobIDs(jobs))
}

func TestGetConcurrentJobs_LifespanSkipsToFirstEligibleName(t *testing.T) {
	ctx := context.Background()
	q, s := newMemoryQueue()
	require.NoError(t, q.AddWorker("slow", noop))
	require.NoError(t, q.AddWorker("fast", noop, config.WithConcurrency(2)))

	now := time.Now()
	seedJob(t, s, "s1", "slow", 0, 1, now)
	seedJob(t, s, "f1", "fast", 100*time.Millisecond, 1, now.Add(time.Millisecond))

	batch, err := q.GetConcurrentJobs(ctx, durationPtr(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, jobIDs(batch))
}

func TestGetConcurrentJobs_UnregisteredWorkerClaimsOne(t *testing.T) {
	ctx := context.Background()
	q, s := newMemoryQueue()

	now := time.Now()
	seedJob(t, s, "g1", "ghost", 0, 1, now)
	seedJob(t, s, "g2", "ghost", 0, 1, now.Add(time.Millisecond))

	batch, err := q.GetConcurrentJobs(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, jobIDs(batch))
}

func TestGetConcurrentJobs_ExcludesJobsLostToConcurrentClaim(t *testing.T) {
	now := time.Now()
	s := &mocks.MockJobStore{
		QueryAllFunc: func(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
			return []types.Job{
				{ID: "a", Name: "echo", Status: state.StatusInactive, AttemptsRemaining: 1, CreatedAt: now},
				{ID: "b", Name: "echo", Status: state.StatusInactive, AttemptsRemaining: 1, CreatedAt: now},
			}, nil
		},
		ClaimFunc: func(ctx context.Context, ids []string) ([]string, error) {
			assert.Equal(t, []string{"a", "b"}, ids)
			return []string{"b"}, nil
		},
	}
	q := newTestQueue(s)
	require.NoError(t, q.AddWorker("echo", noop, config.WithConcurrency(2)))

	batch, err := q.GetConcurrentJobs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, jobIDs(batch))
}

func TestGetConcurrentJobs_QueryError(t *testing.T) {
	s := &mocks.MockJobStore{
		QueryAllFunc: func(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
			return nil, errors.New("timeout")
		},
	}
	q := newTestQueue(s)

	_, err := q.GetConcurrentJobs(context.Background(), nil)
	var storeErr *custom_errors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "query", storeErr.Op)
}

func TestGetConcurrentJobs_ClaimErrorReleasesPartialClaim(t *testing.T) {
	var released []string
	s := &mocks.MockJobStore{
		QueryAllFunc: func(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
			return []types.Job{
				{ID: "a", Name: "echo", Status: state.StatusInactive},
				{ID: "b", Name: "echo", Status: state.StatusInactive},
			}, nil
		},
		ClaimFunc: func(ctx context.Context, ids []string) ([]string, error) {
			return []string{"a"}, errors.New("connection lost")
		},
		UpdateFunc: func(ctx context.Context, id string, patch types.JobPatch) error {
			require.NotNil(t, patch.Status)
			assert.Equal(t, state.StatusInactive, *patch.Status)
			assert.Nil(t, patch.AppendError)
			released = append(released, id)
			return nil
		},
	}
	q := newTestQueue(s)
	require.NoError(t, q.AddWorker("echo", noop, config.WithConcurrency(2)))

	batch, err := q.GetConcurrentJobs(context.Background(), nil)
	assert.Nil(t, batch)
	var storeErr *custom_errors.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "claim", storeErr.Op)
	assert.Equal(t, []string{"a"}, released)
}
