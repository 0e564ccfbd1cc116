package test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RezaEskandarii/firequeue/client/test/mocks"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store/memory"
	"github.com/RezaEskandarii/firequeue/types"
)

type settleRecorder struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue []bool
}

func (r *settleRecorder) delivery(body []byte) message_broker.Delivery {
	return message_broker.Delivery{
		Body: body,
		Ack: func() error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.acked++
			return nil
		},
		Nack: func(requeue bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.nacked++
			r.requeue = append(r.requeue, requeue)
			return nil
		},
	}
}

func (r *settleRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked, r.nacked
}

func publishedJob(t *testing.T, id, name string) []byte {
	t.Helper()
	body, err := json.Marshal(types.Job{
		ID:                id,
		Name:              name,
		Status:            state.StatusInactive,
		AttemptsRemaining: 1,
		CreatedAt:         time.Now().UTC(),
	})
	require.NoError(t, err)
	return body
}

func TestQueueWriter_DisabledWithoutBroker(t *testing.T) {
	q := newTestQueue(&mocks.MockJobStore{})
	assert.NoError(t, q.StartQueueAndStorageSyncWorker(context.Background()))
}

func TestQueueWriter_InsertsBatchesAndRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := make(chan message_broker.Delivery)
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context) (<-chan message_broker.Delivery, error) {
			return deliveries, nil
		},
	}
	s := memory.NewMemoryJobStore()
	q := newQueueWithBroker(s, broker)

	var mu sync.Mutex
	var ran []string
	require.NoError(t, q.AddWorker("echo", func(ctx context.Context, id string, payload json.RawMessage) error {
		mu.Lock()
		defer mu.Unlock()
		ran = append(ran, id)
		return nil
	}))

	require.NoError(t, q.StartQueueAndStorageSyncWorker(ctx))

	rec := &settleRecorder{}
	deliveries <- rec.delivery(publishedJob(t, "1", "echo"))
	deliveries <- rec.delivery(publishedJob(t, "2", "echo"))
	deliveries <- rec.delivery(publishedJob(t, "3", "echo"))

	assert.Eventually(t, func() bool {
		acked, _ := rec.counts()
		mu.Lock()
		defer mu.Unlock()
		return acked == 3 && len(ran) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		jobs, err := s.QueryAll(context.Background(), types.JobFilter{})
		return err == nil && len(jobs) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueueWriter_RejectsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := make(chan message_broker.Delivery, 2)
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context) (<-chan message_broker.Delivery, error) {
			return deliveries, nil
		},
	}
	inserted := make(chan []types.Job, 1)
	s := &mocks.MockJobStore{
		BulkInsertFunc: func(ctx context.Context, jobs []types.Job) error {
			inserted <- jobs
			return nil
		},
	}
	q := newQueueWithBroker(s, broker)
	require.NoError(t, q.StartQueueAndStorageSyncWorker(ctx))

	rec := &settleRecorder{}
	deliveries <- rec.delivery([]byte("not json"))
	deliveries <- rec.delivery([]byte(`{"name":"missing-id"}`))

	assert.Eventually(t, func() bool {
		_, nacked := rec.counts()
		return nacked == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []bool{false, false}, rec.requeue)

	select {
	case <-inserted:
		t.Fatal("malformed messages must not be inserted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueWriter_RequeuesOnInsertFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := make(chan message_broker.Delivery, 1)
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context) (<-chan message_broker.Delivery, error) {
			return deliveries, nil
		},
	}
	s := &mocks.MockJobStore{
		BulkInsertFunc: func(ctx context.Context, jobs []types.Job) error {
			return errors.New("store down")
		},
	}
	q := newQueueWithBroker(s, broker)
	require.NoError(t, q.StartQueueAndStorageSyncWorker(ctx))

	rec := &settleRecorder{}
	deliveries <- rec.delivery(publishedJob(t, "1", "echo"))

	// a single message is flushed by the interval ticker
	assert.Eventually(t, func() bool {
		_, nacked := rec.counts()
		return nacked == 1
	}, time.Second, 5*time.Millisecond)
	acked, _ := rec.counts()
	assert.Equal(t, 0, acked)
	assert.Equal(t, []bool{true}, rec.requeue)
}

func TestQueueWriter_RedeliveredMessageDoesNotBlockBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries := make(chan message_broker.Delivery, 2)
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context) (<-chan message_broker.Delivery, error) {
			return deliveries, nil
		},
	}
	s := memory.NewMemoryJobStore()
	// "dup" was stored before its ack got lost
	seedJob(t, s, "dup", "later", 0, 1, time.Now())

	q := newQueueWithBroker(s, broker)
	require.NoError(t, q.StartQueueAndStorageSyncWorker(ctx))

	rec := &settleRecorder{}
	deliveries <- rec.delivery(publishedJob(t, "dup", "later"))
	deliveries <- rec.delivery(publishedJob(t, "fresh", "later"))

	assert.Eventually(t, func() bool {
		acked, _ := rec.counts()
		return acked == 2
	}, 2*time.Second, 5*time.Millisecond)
	_, nacked := rec.counts()
	assert.Equal(t, 0, nacked)

	// without a worker the job ends FAILED but stays stored
	assert.Eventually(t, func() bool {
		_, err := s.FindByID(context.Background(), "fresh")
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestQueueWriter_ConsumeError(t *testing.T) {
	broker := &mocks.MockMessageBroker{
		ConsumeFunc: func(ctx context.Context) (<-chan message_broker.Delivery, error) {
			return nil, errors.New("no channel")
		},
	}
	q := newQueueWithBroker(&mocks.MockJobStore{}, broker)
	assert.ErrorContains(t, q.StartQueueAndStorageSyncWorker(context.Background()), "no channel")
}
