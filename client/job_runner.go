package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// ProcessJob runs one claimed job and commits the outcome: the record is
// deleted on success; on failure the error is appended, one attempt is
// consumed and the job returns to INACTIVE or ends FAILED. Handler, timeout
// and missing-worker failures are recorded on the job. A handler interrupted
// because ctx was cancelled goes back to INACTIVE without losing an attempt.
// A job deleted while it ran is left deleted. Only a *StoreError is returned.
func (q *Queue) ProcessJob(ctx context.Context, job types.Job) error {
	// outcomes must land even if the caller's context is cancelled meanwhile
	commitCtx := context.WithoutCancel(ctx)

	worker, err := q.registry.GetConfig(job.Name)
	if err != nil {
		return q.fail(commitCtx, job, nil, err)
	}

	q.invokeCallback(ctx, "on_start", worker.OnStart, job)

	result := q.execute(ctx, worker, job)
	if !result.Succeeded() {
		if ctx.Err() != nil && !result.TimedOut {
			return q.requeue(commitCtx, job)
		}
		return q.fail(commitCtx, job, &worker, result.Err)
	}

	q.invokeCallback(ctx, "on_success", worker.OnSuccess, job)

	if err := q.store.Delete(commitCtx, job.ID); err != nil && !errors.Is(err, store.ErrJobNotFound) {
		q.logger.Error("failed to delete completed job", "job_id", job.ID, "job_name", job.Name, "error", err)
		return &custom_errors.StoreError{Op: "delete", Err: err}
	}
	q.logger.Debug("job succeeded", "job_id", job.ID, "job_name", job.Name, "elapsed", result.Elapsed)
	return nil
}

// execute races the handler against the job timeout. On expiry the handler's
// context is cancelled and the job is reported failed; a handler that ignores
// cancellation keeps running in its goroutine until it returns.
func (q *Queue) execute(ctx context.Context, worker config.Worker, job types.Job) types.JobResult {
	started := q.now()
	timeout := job.Timeout()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- invokeHandler(runCtx, worker.Handler, job)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case err := <-done:
		return types.JobResult{JobID: job.ID, Err: err, Elapsed: q.now().Sub(started)}
	case <-deadline:
		q.logger.Warn("job timed out", "job_id", job.ID, "job_name", job.Name, "timeout", timeout)
		return types.JobResult{
			JobID:    job.ID,
			Err:      &custom_errors.TimeoutError{Timeout: timeout},
			Elapsed:  q.now().Sub(started),
			TimedOut: true,
		}
	}
}

func invokeHandler(ctx context.Context, handler config.HandlerFunc, job types.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &custom_errors.HandlerError{Err: fmt.Errorf("%v", r), Panic: true}
		}
	}()

	if err := handler(ctx, job.ID, job.Payload); err != nil {
		var timeoutErr *custom_errors.TimeoutError
		if errors.As(err, &timeoutErr) {
			return timeoutErr
		}
		return &custom_errors.HandlerError{Err: err}
	}
	return nil
}

func (q *Queue) fail(ctx context.Context, job types.Job, worker *config.Worker, cause error) error {
	remaining := job.AttemptsRemaining - 1
	if remaining < 0 {
		remaining = 0
	}
	status := state.StatusInactive
	if remaining == 0 {
		status = state.StatusFailed
	}

	patch := types.JobPatch{
		Status:            &status,
		AttemptsRemaining: &remaining,
		AppendError: &types.JobError{
			Kind:  custom_errors.Kind(cause),
			Cause: cause.Error(),
			At:    q.now().UTC(),
		},
	}
	if err := q.store.Update(ctx, job.ID, patch); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			q.logger.Info("failed job was deleted while running", "job_id", job.ID, "job_name", job.Name, "error", cause)
			return nil
		}
		q.logger.Error("failed to record job failure", "job_id", job.ID, "job_name", job.Name, "error", err)
		return &custom_errors.StoreError{Op: "update", Err: err}
	}

	q.logger.Info("job failed",
		"job_id", job.ID,
		"job_name", job.Name,
		"status", status,
		"attempts_remaining", remaining,
		"error", cause,
	)

	if worker != nil {
		q.invokeCallback(ctx, "on_failure", worker.OnFailure, job)
	}
	return nil
}

// requeue returns a job interrupted by shutdown to INACTIVE with its attempts intact.
func (q *Queue) requeue(ctx context.Context, job types.Job) error {
	inactive := state.StatusInactive
	if err := q.store.Update(ctx, job.ID, types.JobPatch{Status: &inactive}); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return nil
		}
		q.logger.Error("failed to requeue interrupted job", "job_id", job.ID, "job_name", job.Name, "error", err)
		return &custom_errors.StoreError{Op: "update", Err: err}
	}
	q.logger.Info("job interrupted by shutdown", "job_id", job.ID, "job_name", job.Name)
	return nil
}

// invokeCallback runs a lifecycle hook. Its errors and panics are logged only.
func (q *Queue) invokeCallback(ctx context.Context, hook string, cb config.LifecycleCallback, job types.Job) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("lifecycle callback panicked", "hook", hook, "job_id", job.ID, "job_name", job.Name, "error", r)
		}
	}()

	if err := cb(ctx, job.ID, job.Payload); err != nil {
		q.logger.Warn("lifecycle callback failed", "hook", hook, "job_id", job.ID, "job_name", job.Name, "error", err)
	}
}
