package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	"github.com/lib/pq"
)

var _ store.JobStore = (*PostgresJobStore)(nil)

const jobColumns = `id, name, payload, status, timeout_ms, attempts_remaining, errors, created_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

func (r *PostgresJobStore) Insert(ctx context.Context, job types.Job) error {
	errorsJSON, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO firequeue_schema.jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.Name,
		payloadOrNull(job.Payload),
		job.Status,
		job.TimeoutMs,
		job.AttemptsRemaining,
		errorsJSON,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func (r *PostgresJobStore) BulkInsert(ctx context.Context, jobs []types.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	const fieldsPerRow = 8
	values := make([]string, 0, len(jobs))
	args := make([]any, 0, len(jobs)*fieldsPerRow)

	for i, job := range jobs {
		errorsJSON, err := marshalErrors(job.Errors)
		if err != nil {
			return err
		}
		base := i * fieldsPerRow
		placeholders := make([]string, fieldsPerRow)
		for k := range placeholders {
			placeholders[k] = fmt.Sprintf("$%d", base+k+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			job.ID,
			job.Name,
			payloadOrNull(job.Payload),
			job.Status,
			job.TimeoutMs,
			job.AttemptsRemaining,
			errorsJSON,
			job.CreatedAt,
		)
	}

	query := `INSERT INTO firequeue_schema.jobs (` + jobColumns + `) VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d jobs: %w", len(jobs), err)
	}
	return nil
}

func (r *PostgresJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM firequeue_schema.jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

func (r *PostgresJobStore) QueryAll(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
	where, args := buildWhere(filter, 1)
	query := `SELECT ` + jobColumns + ` FROM firequeue_schema.jobs WHERE ` + where + ` ORDER BY created_at ASC, id ASC`

	if !filter.Consistent {
		return r.queryJobs(ctx, r.db, query, args...)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	jobs, err := r.queryJobs(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit read transaction: %w", err)
	}
	return jobs, nil
}

func (r *PostgresJobStore) Claim(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE firequeue_schema.jobs
		SET status = $1
		WHERE id = ANY($2) AND status = $3
		RETURNING id
	`, state.StatusActive, pq.Array(ids), state.StatusInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	claimed := make([]string, 0, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

func (r *PostgresJobStore) Update(ctx context.Context, id string, patch types.JobPatch) error {
	var sets []string
	var args []any
	argIndex := 1

	if patch.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *patch.Status)
		argIndex++
	}
	if patch.AttemptsRemaining != nil {
		sets = append(sets, fmt.Sprintf("attempts_remaining = $%d", argIndex))
		args = append(args, *patch.AttemptsRemaining)
		argIndex++
	}
	if patch.AppendError != nil {
		entry, err := json.Marshal([]types.JobError{*patch.AppendError})
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("errors = errors || $%d::jsonb", argIndex))
		args = append(args, entry)
		argIndex++
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE firequeue_schema.jobs SET ` + strings.Join(sets, ", ") + fmt.Sprintf(" WHERE id = $%d", argIndex)
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return requireAffected(result)
}

func (r *PostgresJobStore) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM firequeue_schema.jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return requireAffected(result)
}

func (r *PostgresJobStore) DeleteAll(ctx context.Context, filter types.JobFilter) (int, error) {
	where, args := buildWhere(filter, 1)

	result, err := r.db.ExecContext(ctx, `DELETE FROM firequeue_schema.jobs WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (r *PostgresJobStore) ReleaseActive(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE firequeue_schema.jobs
		SET status = $1
		WHERE status = $2
	`, state.StatusInactive, state.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to release active jobs: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func (r *PostgresJobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS count
		FROM firequeue_schema.jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := store.ZeroCounts()
	for rows.Next() {
		var status state.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[status] = count
	}
	return result, rows.Err()
}

func (r *PostgresJobStore) Close() error {
	return r.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresJobStore) queryJobs(ctx context.Context, q querier, query string, args ...any) ([]types.Job, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]types.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// buildWhere renders filter as a WHERE clause whose placeholders start at argIndex.
func buildWhere(filter types.JobFilter, argIndex int) (string, []any) {
	where := "TRUE"
	var args []any

	if filter.Name != "" {
		where += fmt.Sprintf(" AND name = $%d", argIndex)
		args = append(args, filter.Name)
		argIndex++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = s.String()
		}
		where += fmt.Sprintf(" AND status = ANY($%d)", argIndex)
		args = append(args, pq.Array(statuses))
	}
	return where, args
}

func scanJob(row rowScanner) (*types.Job, error) {
	var job types.Job
	var payload, errorsJSON []byte
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&payload,
		&job.Status,
		&job.TimeoutMs,
		&job.AttemptsRemaining,
		&errorsJSON,
		&job.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("job %s has a corrupt error history: %w", job.ID, err)
		}
	}
	return &job, nil
}

func marshalErrors(errs []types.JobError) ([]byte, error) {
	if errs == nil {
		errs = []types.JobError{}
	}
	return json.Marshal(errs)
}

func payloadOrNull(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return []byte(payload)
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrJobNotFound
	}
	return nil
}
