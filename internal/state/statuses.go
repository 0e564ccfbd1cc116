package state

type JobStatus string

const (
	StatusInactive JobStatus = "INACTIVE"
	StatusActive   JobStatus = "ACTIVE"
	StatusFailed   JobStatus = "FAILED"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further claims may happen for a job in this status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusFailed
}

var AllStatuses = []JobStatus{
	StatusInactive,
	StatusActive,
	StatusFailed,
}

// QueueStatus is the run state of a processing loop.
type QueueStatus string

const (
	QueueStopped QueueStatus = "stopped"
	QueueRunning QueueStatus = "running"
)

func (s QueueStatus) String() string {
	return string(s)
}
