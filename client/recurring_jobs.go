package client

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RezaEskandarii/firequeue/types"
)

// cronParser accepts standard five field expressions and descriptors such as "@every 30s".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RecurringJob describes one schedule registered with RecurringJobs.
type RecurringJob struct {
	Name       string
	Expression string
	Next       time.Time
	Prev       time.Time
}

// RecurringJobs creates a job on every tick of a cron schedule. Each job name
// has at most one schedule; scheduling a name again replaces it.
type RecurringJobs struct {
	queue  *Queue
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]recurringEntry
}

type recurringEntry struct {
	id         cron.EntryID
	expression string
}

func NewRecurringJobs(queue *Queue) *RecurringJobs {
	return &RecurringJobs{
		queue:   queue,
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		logger:  queue.logger.With("component", "recurring_jobs"),
		entries: make(map[string]recurringEntry),
	}
}

// Schedule creates a job named name with payload each time expression fires.
func (r *RecurringJobs) Schedule(name, expression string, payload any, opts ...types.JobOption) error {
	if name == "" {
		return fmt.Errorf("recurring job name is required")
	}
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	// reject bad payloads now rather than on every tick
	if _, err := encodePayload(payload); err != nil {
		return fmt.Errorf("invalid payload for recurring job %q: %w", name, err)
	}

	id := r.cron.Schedule(schedule, cron.FuncJob(func() {
		jobID, err := r.queue.CreateJob(context.Background(), name, payload, true, opts...)
		if err != nil {
			r.logger.Error("failed to create recurring job", "job_name", name, "error", err)
			return
		}
		r.logger.Debug("created recurring job", "job_id", jobID, "job_name", name)
	}))

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[name]; ok {
		r.cron.Remove(old.id)
	}
	r.entries[name] = recurringEntry{id: id, expression: expression}
	return nil
}

// Remove drops the schedule for name and reports whether one existed.
func (r *RecurringJobs) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return false
	}
	r.cron.Remove(entry.id)
	delete(r.entries, name)
	return true
}

// Entries lists the registered schedules ordered by name. Next is zero until Start.
func (r *RecurringJobs) Entries() []RecurringJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]RecurringJob, 0, len(r.entries))
	for name, entry := range r.entries {
		e := r.cron.Entry(entry.id)
		result = append(result, RecurringJob{
			Name:       name,
			Expression: entry.expression,
			Next:       e.Next,
			Prev:       e.Prev,
		})
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return result
}

func (r *RecurringJobs) Start() {
	r.cron.Start()
	r.logger.Info("recurring jobs started", "count", len(r.Entries()))
}

// Stop halts the schedule and returns a context that is done once running ticks finish.
func (r *RecurringJobs) Stop() context.Context {
	ctx := r.cron.Stop()
	r.logger.Info("recurring jobs stopped")
	return ctx
}
