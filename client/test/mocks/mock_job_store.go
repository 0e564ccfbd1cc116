package mocks

import (
	"context"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/types"
)

// MockJobStore is a mock implementation of store.JobStore for testing.
type MockJobStore struct {
	InsertFunc        func(ctx context.Context, job types.Job) error
	BulkInsertFunc    func(ctx context.Context, jobs []types.Job) error
	FindByIDFunc      func(ctx context.Context, id string) (*types.Job, error)
	QueryAllFunc      func(ctx context.Context, filter types.JobFilter) ([]types.Job, error)
	ClaimFunc         func(ctx context.Context, ids []string) ([]string, error)
	UpdateFunc        func(ctx context.Context, id string, patch types.JobPatch) error
	DeleteFunc        func(ctx context.Context, id string) error
	DeleteAllFunc     func(ctx context.Context, filter types.JobFilter) (int, error)
	ReleaseActiveFunc func(ctx context.Context) (int, error)
	CountByStatusFunc func(ctx context.Context) (map[state.JobStatus]int, error)
	CloseFunc         func() error
}

func (m *MockJobStore) Insert(ctx context.Context, job types.Job) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, job)
	}
	return nil
}

func (m *MockJobStore) BulkInsert(ctx context.Context, jobs []types.Job) error {
	if m.BulkInsertFunc != nil {
		return m.BulkInsertFunc(ctx, jobs)
	}
	return nil
}

func (m *MockJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockJobStore) QueryAll(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
	if m.QueryAllFunc != nil {
		return m.QueryAllFunc(ctx, filter)
	}
	return []types.Job{}, nil
}

func (m *MockJobStore) Claim(ctx context.Context, ids []string) ([]string, error) {
	if m.ClaimFunc != nil {
		return m.ClaimFunc(ctx, ids)
	}
	return ids, nil
}

func (m *MockJobStore) Update(ctx context.Context, id string, patch types.JobPatch) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, patch)
	}
	return nil
}

func (m *MockJobStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockJobStore) DeleteAll(ctx context.Context, filter types.JobFilter) (int, error) {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx, filter)
	}
	return 0, nil
}

func (m *MockJobStore) ReleaseActive(ctx context.Context) (int, error) {
	if m.ReleaseActiveFunc != nil {
		return m.ReleaseActiveFunc(ctx)
	}
	return 0, nil
}

func (m *MockJobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(ctx)
	}
	return map[state.JobStatus]int{}, nil
}

func (m *MockJobStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
