package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// Queue owns the job store, the worker registry and the run state of the
// processing loop. Only one loop runs per Queue, and the processing loop lock
// extends that to every process sharing the store.
type Queue struct {
	store    store.JobStore
	registry *config.WorkerRegistry
	lock     lock.DistributedLockManager
	mBroker  message_broker.MessageBroker
	logger   *slog.Logger
	cfg      *config.QueueConfig

	now func() time.Time

	mu     sync.Mutex
	status state.QueueStatus
	stopCh chan struct{}
	done   chan struct{}
	// rerun records a Start that arrived while the loop was running, so an
	// unbounded loop re-checks the store instead of going idle over a new job.
	rerun bool
}

// NewQueue builds a Queue. A nil registry or lock manager gets a process-local
// default; mBroker is only used when cfg enables the queue writer.
func NewQueue(jobStore store.JobStore, registry *config.WorkerRegistry, lockMgr lock.DistributedLockManager, mBroker message_broker.MessageBroker, cfg *config.QueueConfig) *Queue {
	if cfg == nil {
		cfg = &config.QueueConfig{
			Instance:    "default",
			IdlePollMin: config.DefaultIdlePollMin,
			IdlePollMax: config.DefaultIdlePollMax,
		}
	}
	if registry == nil {
		registry = config.NewWorkerRegistry()
	}
	if lockMgr == nil {
		lockMgr = lock.NewLocalLockManager()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Queue{
		store:    jobStore,
		registry: registry,
		lock:     lockMgr,
		mBroker:  mBroker,
		logger:   logger.With("instance", cfg.Instance),
		cfg:      cfg,
		now:      time.Now,
		status:   state.QueueStopped,
	}
}

func (q *Queue) Registry() *config.WorkerRegistry {
	return q.registry
}

// AddWorker registers handler for jobs named name, replacing any previous worker.
func (q *Queue) AddWorker(name string, handler config.HandlerFunc, opts ...config.WorkerOption) error {
	return q.registry.Register(name, handler, opts...)
}

// RemoveWorker unregisters name. Jobs already stored under it fail on their next run.
func (q *Queue) RemoveWorker(name string) {
	q.registry.Remove(name)
}

// CreateJob stores a new INACTIVE job and returns its id. Unless startQueue is
// false it also starts the processing loop in the background without a lifespan.
// The worker does not have to be registered yet.
func (q *Queue) CreateJob(ctx context.Context, name string, payload any, startQueue bool, opts ...types.JobOption) (string, error) {
	job, err := q.buildJob(name, payload, types.NewJobOptions(opts...))
	if err != nil {
		return "", err
	}

	if q.useQueueWriter() {
		if err := q.publish(ctx, job); err != nil {
			return "", err
		}
		// the sync worker starts the loop once the job reaches the store
		return job.ID, nil
	}

	if err := q.store.Insert(ctx, job); err != nil {
		q.logger.Error("failed to insert job", "job_id", job.ID, "job_name", job.Name, "error", err)
		return "", &custom_errors.StoreError{Op: "insert", Err: err}
	}

	if startQueue {
		q.startInBackground()
	}
	return job.ID, nil
}

func (q *Queue) buildJob(name string, payload any, opts types.JobOptions) (types.Job, error) {
	if name == "" {
		return types.Job{}, errors.New("job name is required")
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return types.Job{}, fmt.Errorf("invalid payload for job %q: %w", name, err)
	}

	attempts := config.DefaultAttempts
	timeout := config.DefaultTimeout
	if worker, err := q.registry.GetConfig(name); err == nil {
		if worker.Attempts != nil {
			attempts = *worker.Attempts
		}
		if worker.Timeout != nil {
			timeout = *worker.Timeout
		}
	}
	if opts.Attempts != nil {
		attempts = *opts.Attempts
	}
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}

	if attempts < 1 {
		return types.Job{}, fmt.Errorf("job %q: attempts must be at least 1, got %d", name, attempts)
	}
	if timeout < 0 {
		return types.Job{}, fmt.Errorf("job %q: timeout must not be negative", name)
	}

	return types.Job{
		ID:                uuid.NewString(),
		Name:              name,
		Payload:           raw,
		Status:            state.StatusInactive,
		TimeoutMs:         timeout.Milliseconds(),
		AttemptsRemaining: attempts,
		Errors:            []types.JobError{},
		CreatedAt:         q.now().UTC(),
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// GetJobs returns every stored job, oldest first. With sync set the read is
// served by a transaction that observes all committed writes.
func (q *Queue) GetJobs(ctx context.Context, sync bool) ([]types.Job, error) {
	jobs, err := q.store.QueryAll(ctx, types.JobFilter{Consistent: sync})
	if err != nil {
		return nil, &custom_errors.StoreError{Op: "query", Err: err}
	}
	return jobs, nil
}

// FlushQueue deletes every job with one of the given names, or every job when
// no name is given. Status is not consulted.
func (q *Queue) FlushQueue(ctx context.Context, names ...string) error {
	filters := []types.JobFilter{{}}
	if len(names) > 0 {
		filters = filters[:0]
		for _, name := range names {
			filters = append(filters, types.JobFilter{Name: name})
		}
	}

	for _, filter := range filters {
		n, err := q.store.DeleteAll(ctx, filter)
		if err != nil {
			return &custom_errors.StoreError{Op: "delete", Err: err}
		}
		q.logger.Info("flushed jobs", "job_name", filter.Name, "count", n)
	}
	return nil
}

func (q *Queue) CountJobsByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, &custom_errors.StoreError{Op: "count", Err: err}
	}
	return counts, nil
}

func (q *Queue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status == state.QueueRunning
}

// Wait blocks until the running loop, if any, has exited.
func (q *Queue) Wait() {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (q *Queue) useQueueWriter() bool {
	return q.cfg.UseQueueWriter && q.mBroker != nil
}

func (q *Queue) publish(ctx context.Context, job types.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.mBroker.Publish(ctx, body); err != nil {
		q.logger.Error("failed to publish job", "job_id", job.ID, "job_name", job.Name, "error", err)
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}
