package test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/internal/store/memory"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

func testConfig() *config.QueueConfig {
	return &config.QueueConfig{
		Instance:            "test-instance",
		StorageDriver:       config.Memory,
		IdlePollMin:         10 * time.Millisecond,
		IdlePollMax:         40 * time.Millisecond,
		WriterBatchSize:     2,
		WriterFlushInterval: 20 * time.Millisecond,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestQueue(jobStore store.JobStore) *client.Queue {
	return client.NewQueue(jobStore, config.NewWorkerRegistry(), lock.NewLocalLockManager(), nil, testConfig())
}

func newMemoryQueue() (*client.Queue, *memory.MemoryJobStore) {
	s := memory.NewMemoryJobStore()
	return newTestQueue(s), s
}

func newQueueWithBroker(jobStore store.JobStore, broker message_broker.MessageBroker) *client.Queue {
	cfg := testConfig()
	cfg.UseQueueWriter = true
	return client.NewQueue(jobStore, config.NewWorkerRegistry(), lock.NewLocalLockManager(), broker, cfg)
}

// seedJob inserts an INACTIVE job directly into the store.
func seedJob(t *testing.T, s store.JobStore, id, name string, timeout time.Duration, attempts int, createdAt time.Time) types.Job {
	t.Helper()
	job := types.Job{
		ID:                id,
		Name:              name,
		Payload:           []byte(`{"id":"` + id + `"}`),
		Status:            state.StatusInactive,
		TimeoutMs:         timeout.Milliseconds(),
		AttemptsRemaining: attempts,
		CreatedAt:         createdAt,
	}
	require.NoError(t, s.Insert(context.Background(), job))
	return job
}

func jobIDs(jobs []types.Job) []string {
	ids := make([]string, len(jobs))
	for i, job := range jobs {
		ids[i] = job.ID
	}
	return ids
}

func newQueueWithLock(jobStore store.JobStore, lockMgr lock.DistributedLockManager) *client.Queue {
	return client.NewQueue(jobStore, config.NewWorkerRegistry(), lockMgr, nil, testConfig())
}
