package types

import (
	"time"
)

// JobResult is the outcome of a single job execution before it is committed.
type JobResult struct {
	JobID    string
	Err      error
	Elapsed  time.Duration
	TimedOut bool
}

func (r JobResult) Succeeded() bool {
	return r.Err == nil
}
