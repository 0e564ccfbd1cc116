package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/constants"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// Start runs the processing loop until it is stopped, ctx is cancelled, the
// lifespan is nearly used up or, without a lifespan, nothing is left to
// claim. A lifespan of zero means unbounded.
//
// It returns false without doing anything when a loop is already running in
// this Queue or holds the processing loop lock elsewhere. A *StoreError from a
// claim or commit ends the loop and is returned.
func (q *Queue) Start(ctx context.Context, lifespan time.Duration) (bool, error) {
	q.mu.Lock()
	if q.status == state.QueueRunning {
		q.rerun = true
		q.mu.Unlock()
		return false, nil
	}
	q.status = state.QueueRunning
	q.rerun = false
	q.stopCh = make(chan struct{})
	q.done = make(chan struct{})
	q.mu.Unlock()

	defer q.finish()

	acquired, err := q.lock.TryAcquire(ctx, constants.ProcessingLoopLock)
	if err != nil {
		q.logger.Error("failed to acquire processing loop lock", "error", err)
		return false, &custom_errors.StoreError{Op: "lock", Err: err}
	}
	if !acquired {
		q.logger.Info("processing loop already running in another process")
		return false, nil
	}
	defer func() {
		if err := q.lock.Release(context.Background(), constants.ProcessingLoopLock); err != nil {
			q.logger.Error("failed to release processing loop lock", "error", err)
		}
	}()

	// jobs left ACTIVE by a crashed loop have no owner once we hold the lock
	released, err := q.store.ReleaseActive(ctx)
	if err != nil {
		q.logger.Error("failed to release orphaned jobs", "error", err)
		return true, &custom_errors.StoreError{Op: "release", Err: err}
	}
	if released > 0 {
		q.logger.Warn("released orphaned active jobs", "count", released)
	}

	q.logger.Info("processing loop started", "lifespan", lifespan)
	err = q.run(ctx, lifespan)
	q.logger.Info("processing loop stopped")
	return true, err
}

// Stop asks the running loop to exit after its in-flight batch has been
// committed. It does not cancel running handlers.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.status != state.QueueRunning {
		return
	}
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.status = state.QueueStopped
	q.rerun = false
	close(q.done)
}

func (q *Queue) run(ctx context.Context, lifespan time.Duration) error {
	started := q.now()
	idle := q.idlePollMin()
	rechecked := false

	for {
		if q.stopRequested() {
			q.logger.Debug("stop requested")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		var remaining *time.Duration
		if lifespan > 0 {
			left := lifespan - q.now().Sub(started)
			if left < config.LifespanBuffer {
				q.logger.Info("lifespan exhausted", "lifespan", lifespan)
				return nil
			}
			remaining = &left
		}

		batch, err := q.GetConcurrentJobs(ctx, remaining)
		if err != nil {
			q.logger.Error("failed to claim jobs", "error", err)
			return err
		}

		if len(batch) == 0 {
			if remaining == nil {
				if q.takeRerun() {
					continue
				}
				// one short pause catches jobs committed just after the claim query
				if !rechecked {
					rechecked = true
					q.sleep(ctx, q.idlePollMin())
					continue
				}
				q.logger.Debug("queue idle")
				return nil
			}

			wait := idle
			if limit := *remaining - config.LifespanBuffer; wait > limit {
				wait = limit
			}
			q.sleep(ctx, wait)
			idle *= 2
			if ceiling := q.idlePollMax(); idle > ceiling {
				idle = ceiling
			}
			continue
		}

		idle = q.idlePollMin()
		rechecked = false
		if err := q.processBatch(ctx, batch); err != nil {
			return err
		}
	}
}

// processBatch runs every claimed job concurrently and waits for all of them
// to commit. Jobs whose commit failed are handed back before returning.
func (q *Queue) processBatch(ctx context.Context, batch []types.Job) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []string
	)

	for _, job := range batch {
		g.Go(func() error {
			err := q.ProcessJob(ctx, job)
			if err != nil {
				mu.Lock()
				failed = append(failed, job.ID)
				mu.Unlock()
			}
			return err
		})
	}

	err := g.Wait()
	if err == nil {
		return nil
	}

	q.releaseClaimed(failed)

	var storeErr *custom_errors.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return &custom_errors.StoreError{Op: "commit", Err: err}
}

func (q *Queue) stopRequested() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case <-q.stopCh:
		return true
	default:
		return false
	}
}

func (q *Queue) takeRerun() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	rerun := q.rerun
	q.rerun = false
	return rerun
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	q.mu.Lock()
	stopCh := q.stopCh
	q.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stopCh:
	case <-ctx.Done():
	}
}

func (q *Queue) idlePollMin() time.Duration {
	if q.cfg.IdlePollMin > 0 {
		return q.cfg.IdlePollMin
	}
	return config.DefaultIdlePollMin
}

func (q *Queue) idlePollMax() time.Duration {
	if q.cfg.IdlePollMax > 0 {
		return q.cfg.IdlePollMax
	}
	return config.DefaultIdlePollMax
}

// startInBackground runs an unbounded loop for newly created work.
func (q *Queue) startInBackground() {
	go func() {
		if _, err := q.Start(context.Background(), 0); err != nil {
			q.logger.Error("background processing loop failed", "error", err)
		}
	}()
}
