package types

import (
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/state"
)

// JobError is one failed execution of a job.
type JobError struct {
	Kind  string    `json:"kind"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

// Job is the persisted unit of work.
type Job struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Payload           json.RawMessage `json:"payload"`
	Status            state.JobStatus `json:"status"`
	TimeoutMs         int64           `json:"timeout_ms"`
	AttemptsRemaining int             `json:"attempts_remaining"`
	Errors            []JobError      `json:"errors"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Timeout returns the per-execution budget. Zero means unbounded.
func (j Job) Timeout() time.Duration {
	return time.Duration(j.TimeoutMs) * time.Millisecond
}

// Clone returns a copy that shares no slices with j.
func (j Job) Clone() Job {
	cp := j
	if j.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Errors != nil {
		cp.Errors = append([]JobError(nil), j.Errors...)
	}
	return cp
}

// JobOptions override a worker's defaults for a single job.
// Nil fields fall back to the worker and then to the engine defaults.
type JobOptions struct {
	Timeout  *time.Duration
	Attempts *int
}

type JobOption func(*JobOptions)

// WithTimeout sets the per-execution budget; zero means unbounded.
func WithTimeout(d time.Duration) JobOption {
	return func(o *JobOptions) {
		o.Timeout = &d
	}
}

// WithAttempts sets how many executions the job may consume before it fails for good.
func WithAttempts(n int) JobOption {
	return func(o *JobOptions) {
		o.Attempts = &n
	}
}

func NewJobOptions(opts ...JobOption) JobOptions {
	var o JobOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JobPatch describes a partial update of a job record.
// AppendError, when set, is added to the end of the error history.
type JobPatch struct {
	Status            *state.JobStatus
	AttemptsRemaining *int
	AppendError       *JobError
}

// JobFilter selects job records. Zero values match everything.
type JobFilter struct {
	Name     string
	Statuses []state.JobStatus

	// Consistent asks the store to read inside a transaction that observes
	// every write committed before the read started.
	Consistent bool
}

// Matches reports whether j is selected by f.
func (f JobFilter) Matches(j Job) bool {
	if f.Name != "" && j.Name != f.Name {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}
