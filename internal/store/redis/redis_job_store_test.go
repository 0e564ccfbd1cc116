package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

func TestKeys(t *testing.T) {
	k := newKeys("")
	assert.Equal(t, "firequeue:job:42", k.job("42"))
	assert.Equal(t, "firequeue:jobs", k.index())

	k = newKeys("tenant-a")
	assert.Equal(t, "tenant-a:job:42", k.job("42"))
}

func TestJobMapRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	job := types.Job{
		ID:                "j1",
		Name:              "echo",
		Payload:           []byte(`{"a":1}`),
		Status:            state.StatusFailed,
		TimeoutMs:         1500,
		AttemptsRemaining: 0,
		Errors:            []types.JobError{{Kind: "TimeoutError", Cause: "deadline", At: created}},
		CreatedAt:         created,
	}

	fields, err := jobToMap(job)
	require.NoError(t, err)

	strFields := make(map[string]string, len(fields))
	for k, v := range fields {
		strFields[k] = v.(string)
	}
	assert.Equal(t, "FAILED", strFields["status"])
	assert.Equal(t, "1500", strFields["timeout_ms"])

	got, err := mapToJob("j1", strFields)
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.JSONEq(t, string(job.Payload), string(got.Payload))
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.TimeoutMs, got.TimeoutMs)
	assert.True(t, created.Equal(got.CreatedAt))
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "deadline", got.Errors[0].Cause)
}

func TestMapToJob_Corrupt(t *testing.T) {
	_, err := mapToJob("x", map[string]string{"timeout_ms": "nope"})
	assert.Error(t, err)

	_, err = mapToJob("x", map[string]string{
		"timeout_ms":         "0",
		"attempts_remaining": "1",
		"created_at":         time.Now().Format(time.RFC3339Nano),
		"errors":             "{",
	})
	assert.Error(t, err)
}

func TestJobToMap_EmptyHistory(t *testing.T) {
	fields, err := jobToMap(types.Job{ID: "x", Status: state.StatusInactive})
	require.NoError(t, err)
	assert.Equal(t, "[]", fields["errors"])
	assert.Equal(t, "", fields["payload"])
}

// newLiveStore connects to FIREQUEUE_REDIS_ADDR and isolates the test under a random prefix.
func newLiveStore(t *testing.T) *RedisJobStore {
	t.Helper()
	addr := os.Getenv("FIREQUEUE_REDIS_ADDR")
	if addr == "" {
		t.Skip("FIREQUEUE_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	s := NewRedisJobStore(client, "firequeue-test-"+uuid.NewString())
	require.NoError(t, s.Ping(context.Background()))
	t.Cleanup(func() {
		_, _ = s.DeleteAll(context.Background(), types.JobFilter{})
		_ = s.Close()
	})
	return s
}

func liveJob(id, name string, createdAt time.Time) types.Job {
	return types.Job{
		ID:                id,
		Name:              name,
		Status:            state.StatusInactive,
		AttemptsRemaining: 1,
		CreatedAt:         createdAt,
	}
}

func TestRedisJobStore_Live(t *testing.T) {
	ctx := context.Background()
	s := newLiveStore(t)
	now := time.Now()

	require.NoError(t, s.BulkInsert(ctx, []types.Job{
		liveJob("b", "echo", now),
		liveJob("a", "echo", now),
		liveJob("c", "boom", now.Add(time.Millisecond)),
	}))
	assert.Error(t, s.Insert(ctx, liveJob("a", "echo", now)))
	// a redelivered batch only adds what is missing
	require.NoError(t, s.BulkInsert(ctx, []types.Job{liveJob("a", "boom", now), liveJob("d", "echo", now.Add(2*time.Millisecond))}))
	require.NoError(t, s.Delete(ctx, "d"))
	found, err := s.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "echo", found.Name)

	jobs, err := s.QueryAll(ctx, types.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "a", jobs[0].ID)
	assert.Equal(t, "c", jobs[2].ID)

	claimed, err := s.Claim(ctx, []string{"a", "a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, claimed)

	failed := state.StatusFailed
	require.NoError(t, s.Update(ctx, "a", types.JobPatch{
		Status:      &failed,
		AppendError: &types.JobError{Kind: "HandlerError", Cause: "x", At: now},
	}))
	job, err := s.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, job.Status)
	assert.Len(t, job.Errors, 1)

	assert.ErrorIs(t, s.Update(ctx, "missing", types.JobPatch{}), store.ErrJobNotFound)

	_, err = s.Claim(ctx, []string{"b"})
	require.NoError(t, err)
	n, err := s.ReleaseActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[state.StatusInactive])
	assert.Equal(t, 1, counts[state.StatusFailed])

	deleted, err := s.DeleteAll(ctx, types.JobFilter{Name: "echo"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.ErrorIs(t, s.Delete(ctx, "a"), store.ErrJobNotFound)
	require.NoError(t, s.Delete(ctx, "c"))
}
