package custom_errors

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds recorded in a job's error history.
const (
	KindNotFound = "NotFoundError"
	KindTimeout  = "TimeoutError"
	KindHandler  = "HandlerError"
	KindStore    = "StoreError"
)

// NotFoundError is returned when no worker is registered for a job name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("worker %q not found", e.Name)
}

// TimeoutError marks a handler that did not return within its job timeout.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job timed out after %s", e.Timeout)
}

// HandlerError wraps an error returned by (or a panic raised from) a worker handler.
type HandlerError struct {
	Err   error
	Panic bool
}

func (e *HandlerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("handler panicked: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// StoreError is a persistence failure. Op names the store operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Kind returns the taxonomy name of the first classified error in err's chain,
// falling back to KindHandler.
func Kind(err error) string {
	var (
		timeoutErr  *TimeoutError
		notFoundErr *NotFoundError
		storeErr    *StoreError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &notFoundErr):
		return KindNotFound
	case errors.As(err, &storeErr):
		return KindStore
	default:
		return KindHandler
	}
}
