package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

var _ store.JobStore = (*MemoryJobStore)(nil)

// MemoryJobStore keeps job records in process memory. Records do not survive a
// restart, so it is meant for tests and development.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]types.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]types.Job)}
}

func (s *MemoryJobStore) Insert(_ context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) BulkInsert(_ context.Context, jobs []types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if _, exists := s.jobs[job.ID]; exists {
			continue
		}
		s.jobs[job.ID] = job.Clone()
	}
	return nil
}

func (s *MemoryJobStore) FindByID(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := job.Clone()
	return &cp, nil
}

func (s *MemoryJobStore) QueryAll(_ context.Context, filter types.JobFilter) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Matches(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	store.SortJobs(jobs)
	return jobs, nil
}

func (s *MemoryJobStore) Claim(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || job.Status != state.StatusInactive {
			continue
		}
		job.Status = state.StatusActive
		s.jobs[id] = job
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (s *MemoryJobStore) Update(_ context.Context, id string, patch types.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	s.jobs[id] = store.ApplyPatch(job, patch)
	return nil
}

func (s *MemoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return store.ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) DeleteAll(_ context.Context, filter types.JobFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if filter.Matches(job) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryJobStore) ReleaseActive(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for id, job := range s.jobs {
		if job.Status == state.StatusActive {
			job.Status = state.StatusInactive
			s.jobs[id] = job
			released++
		}
	}
	return released, nil
}

func (s *MemoryJobStore) CountByStatus(_ context.Context) (map[state.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := store.ZeroCounts()
	for _, job := range s.jobs {
		result[job.Status]++
	}
	return result, nil
}

func (s *MemoryJobStore) Close() error { return nil }
