package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
)

// HandlerFunc executes one job. ctx is cancelled when the job's timeout expires
// or the loop is torn down; handlers that ignore it keep running in the background.
type HandlerFunc func(ctx context.Context, id string, payload json.RawMessage) error

// LifecycleCallback is a best-effort notification. Its errors and panics are logged and dropped.
type LifecycleCallback func(ctx context.Context, id string, payload json.RawMessage) error

// Worker is the registered capability for one job name.
type Worker struct {
	Name        string
	Handler     HandlerFunc
	Concurrency int
	Timeout     *time.Duration // fallback for jobs created without their own timeout
	Attempts    *int           // fallback for jobs created without their own attempts
	OnStart     LifecycleCallback
	OnSuccess   LifecycleCallback
	OnFailure   LifecycleCallback
}

type WorkerOption func(*Worker)

// WithConcurrency sets how many jobs of this name one batch may run in parallel.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		w.Concurrency = n
	}
}

func WithWorkerTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.Timeout = &d
	}
}

func WithWorkerAttempts(n int) WorkerOption {
	return func(w *Worker) {
		w.Attempts = &n
	}
}

func OnStart(fn LifecycleCallback) WorkerOption {
	return func(w *Worker) {
		w.OnStart = fn
	}
}

func OnSuccess(fn LifecycleCallback) WorkerOption {
	return func(w *Worker) {
		w.OnSuccess = fn
	}
}

func OnFailure(fn LifecycleCallback) WorkerOption {
	return func(w *Worker) {
		w.OnFailure = fn
	}
}

// WorkerRegistry maps job names to workers. It is owned by a Queue and safe for concurrent use.
type WorkerRegistry struct {
	workers map[string]Worker
	mutex   sync.RWMutex
}

func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		workers: make(map[string]Worker),
	}
}

// Register adds a worker, replacing any worker already registered under name.
// Existing jobs are not touched.
func (wr *WorkerRegistry) Register(name string, handler HandlerFunc, opts ...WorkerOption) error {
	if name == "" || handler == nil {
		return errors.New("worker must have a job name and handler")
	}

	w := Worker{
		Name:        name,
		Handler:     handler,
		Concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&w)
	}

	if w.Concurrency < 1 {
		return fmt.Errorf("worker %q: concurrency must be at least 1, got %d", name, w.Concurrency)
	}
	if w.Attempts != nil && *w.Attempts < 1 {
		return fmt.Errorf("worker %q: attempts must be at least 1, got %d", name, *w.Attempts)
	}
	if w.Timeout != nil && *w.Timeout < 0 {
		return fmt.Errorf("worker %q: timeout must not be negative", name)
	}

	wr.mutex.Lock()
	defer wr.mutex.Unlock()
	wr.workers[name] = w
	return nil
}

func (wr *WorkerRegistry) Remove(name string) {
	wr.mutex.Lock()
	defer wr.mutex.Unlock()
	delete(wr.workers, name)
}

func (wr *WorkerRegistry) Exists(name string) bool {
	wr.mutex.RLock()
	defer wr.mutex.RUnlock()

	_, exists := wr.workers[name]
	return exists
}

// GetConcurrency returns the worker's concurrency or a *custom_errors.NotFoundError.
func (wr *WorkerRegistry) GetConcurrency(name string) (int, error) {
	w, err := wr.GetConfig(name)
	if err != nil {
		return 0, err
	}
	if w.Concurrency < 1 {
		return DefaultConcurrency, nil
	}
	return w.Concurrency, nil
}

// GetConfig returns a copy of the worker registered under name.
func (wr *WorkerRegistry) GetConfig(name string) (Worker, error) {
	wr.mutex.RLock()
	defer wr.mutex.RUnlock()

	w, exists := wr.workers[name]
	if !exists {
		return Worker{}, &custom_errors.NotFoundError{Name: name}
	}
	return w, nil
}

func (wr *WorkerRegistry) List() []string {
	wr.mutex.RLock()
	defer wr.mutex.RUnlock()

	names := make([]string, 0, len(wr.workers))
	for name := range wr.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
