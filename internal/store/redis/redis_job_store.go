package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
)

var _ store.JobStore = (*RedisJobStore)(nil)

// maxTxRetries bounds optimistic transactions that keep losing their WATCH.
const maxTxRetries = 16

var errDuplicateJob = errors.New("job already exists")

// RedisJobStore keeps each job in a hash and every id in one sorted set.
// Writes that depend on the current state run as WATCH/MULTI transactions.
type RedisJobStore struct {
	client goredis.UniversalClient
	keys   keys
}

func NewRedisJobStore(client goredis.UniversalClient, keyPrefix string) *RedisJobStore {
	return &RedisJobStore{client: client, keys: newKeys(keyPrefix)}
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisJobStore) Insert(ctx context.Context, job types.Job) error {
	return s.insert(ctx, []types.Job{job}, false)
}

// BulkInsert writes the jobs whose ids are not stored yet in one transaction
// and skips the rest.
func (s *RedisJobStore) BulkInsert(ctx context.Context, jobs []types.Job) error {
	return s.insert(ctx, jobs, true)
}

func (s *RedisJobStore) insert(ctx context.Context, jobs []types.Job, skipExisting bool) error {
	if len(jobs) == 0 {
		return nil
	}

	watched := make([]string, len(jobs))
	for i, job := range jobs {
		watched[i] = s.keys.job(job.ID)
	}

	txf := func(tx *goredis.Tx) error {
		fresh := make([]types.Job, 0, len(jobs))
		seen := make(map[string]bool, len(jobs))
		for _, job := range jobs {
			if seen[job.ID] {
				continue
			}
			seen[job.ID] = true

			exists, err := tx.Exists(ctx, s.keys.job(job.ID)).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				if !skipExisting {
					return errDuplicateJob
				}
				continue
			}
			fresh = append(fresh, job)
		}
		if len(fresh) == 0 {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, job := range fresh {
				fields, err := jobToMap(job)
				if err != nil {
					return err
				}
				pipe.HSet(ctx, s.keys.job(job.ID), fields)
				pipe.ZAdd(ctx, s.keys.index(), goredis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
			}
			return nil
		})
		return err
	}

	if err := s.retryWatch(ctx, txf, watched...); err != nil {
		return fmt.Errorf("failed to insert jobs: %w", err)
	}
	return nil
}

func (s *RedisJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrJobNotFound
	}
	return mapToJob(id, fields)
}

// QueryAll reads ids from the index and the hashes in one pipeline round trip.
// Jobs deleted between the two reads are skipped.
func (s *RedisJobStore) QueryAll(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
	ids, err := s.client.ZRange(ctx, s.keys.index(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job ids: %w", err)
	}
	if len(ids) == 0 {
		return []types.Job{}, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.keys.job(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]types.Job, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := mapToJob(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if filter.Matches(*job) {
			jobs = append(jobs, *job)
		}
	}
	store.SortJobs(jobs)
	return jobs, nil
}

func (s *RedisJobStore) Claim(ctx context.Context, ids []string) ([]string, error) {
	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		ok, err := s.transition(ctx, id, state.StatusInactive, state.StatusActive)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim job %s: %w", id, err)
		}
		if ok {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (s *RedisJobStore) Update(ctx context.Context, id string, patch types.JobPatch) error {
	key := s.keys.job(id)
	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return store.ErrJobNotFound
		}
		job, err := mapToJob(id, fields)
		if err != nil {
			return err
		}
		updated, err := jobToMap(store.ApplyPatch(*job, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, updated)
			return nil
		})
		return err
	}

	err := s.retryWatch(ctx, txf, key)
	if errors.Is(err, store.ErrJobNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

func (s *RedisJobStore) Delete(ctx context.Context, id string) error {
	var del *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		del = pipe.Del(ctx, s.keys.job(id))
		pipe.ZRem(ctx, s.keys.index(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if del.Val() == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

func (s *RedisJobStore) DeleteAll(ctx context.Context, filter types.JobFilter) (int, error) {
	jobs, err := s.QueryAll(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	dels := make([]*goredis.IntCmd, len(jobs))
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, job := range jobs {
			dels[i] = pipe.Del(ctx, s.keys.job(job.ID))
			pipe.ZRem(ctx, s.keys.index(), job.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}

	deleted := 0
	for _, cmd := range dels {
		deleted += int(cmd.Val())
	}
	return deleted, nil
}

func (s *RedisJobStore) ReleaseActive(ctx context.Context) (int, error) {
	jobs, err := s.QueryAll(ctx, types.JobFilter{Statuses: []state.JobStatus{state.StatusActive}})
	if err != nil {
		return 0, err
	}

	released := 0
	for _, job := range jobs {
		ok, err := s.transition(ctx, job.ID, state.StatusActive, state.StatusInactive)
		if err != nil {
			return released, fmt.Errorf("failed to release job %s: %w", job.ID, err)
		}
		if ok {
			released++
		}
	}
	return released, nil
}

func (s *RedisJobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	jobs, err := s.QueryAll(ctx, types.JobFilter{})
	if err != nil {
		return nil, err
	}
	result := store.ZeroCounts()
	for _, job := range jobs {
		result[job.Status]++
	}
	return result, nil
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

// transition moves a job from one status to another only if it is still in from.
func (s *RedisJobStore) transition(ctx context.Context, id string, from, to state.JobStatus) (bool, error) {
	key := s.keys.job(id)
	moved := false
	txf := func(tx *goredis.Tx) error {
		moved = false
		current, err := tx.HGet(ctx, key, "status").Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if current != from.String() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, "status", to.String())
			return nil
		})
		if err == nil {
			moved = true
		}
		return err
	}

	if err := s.retryWatch(ctx, txf, key); err != nil {
		return false, err
	}
	return moved, nil
}

func (s *RedisJobStore) retryWatch(ctx context.Context, txf func(*goredis.Tx) error, watched ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return goredis.TxFailedErr
}

func jobToMap(job types.Job) (map[string]any, error) {
	errs := job.Errors
	if errs == nil {
		errs = []types.JobError{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":               job.Name,
		"payload":            string(job.Payload),
		"status":             job.Status.String(),
		"timeout_ms":         strconv.FormatInt(job.TimeoutMs, 10),
		"attempts_remaining": strconv.Itoa(job.AttemptsRemaining),
		"errors":             string(errorsJSON),
		"created_at":         job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func mapToJob(id string, fields map[string]string) (*types.Job, error) {
	job := &types.Job{
		ID:     id,
		Name:   fields["name"],
		Status: state.JobStatus(fields["status"]),
	}
	if p := fields["payload"]; p != "" {
		job.Payload = json.RawMessage(p)
	}

	var err error
	if job.TimeoutMs, err = strconv.ParseInt(fields["timeout_ms"], 10, 64); err != nil {
		return nil, fmt.Errorf("job %s: bad timeout_ms: %w", id, err)
	}
	if job.AttemptsRemaining, err = strconv.Atoi(fields["attempts_remaining"]); err != nil {
		return nil, fmt.Errorf("job %s: bad attempts_remaining: %w", id, err)
	}
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("job %s: bad created_at: %w", id, err)
	}
	if e := fields["errors"]; e != "" {
		if err := json.Unmarshal([]byte(e), &job.Errors); err != nil {
			return nil, fmt.Errorf("job %s: bad error history: %w", id, err)
		}
	}
	return job, nil
}
