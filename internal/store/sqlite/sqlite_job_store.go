package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RezaEskandarii/firequeue/internal/state"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/types"
	_ "github.com/mattn/go-sqlite3"
)

var _ store.JobStore = (*SQLiteJobStore)(nil)

const jobColumns = `id, name, payload, status, timeout_ms, attempts_remaining, errors, created_at`

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	name               TEXT    NOT NULL,
	payload            BLOB,
	status             TEXT    NOT NULL,
	timeout_ms         INTEGER NOT NULL DEFAULT 0,
	attempts_remaining INTEGER NOT NULL DEFAULT 1,
	errors             TEXT    NOT NULL DEFAULT '[]',
	created_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_created_idx ON jobs (status, created_at, id);
`

// SQLiteJobStore keeps jobs in a single SQLite file. created_at is stored as
// unix nanoseconds so that ordering is exact.
type SQLiteJobStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file at path and migrates it.
func Open(ctx context.Context, path string) (*SQLiteJobStore, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time; readers share the same connection
	db.SetMaxOpenConns(1)

	s := NewSQLiteJobStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

func (s *SQLiteJobStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) Insert(ctx context.Context, job types.Job) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertJob(ctx, tx, job, false)
	})
}

func (s *SQLiteJobStore) BulkInsert(ctx context.Context, jobs []types.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, job := range jobs {
			if err := insertJob(ctx, tx, job, true); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteJobStore) FindByID(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// QueryAll reads through the single pooled connection, so every read already
// observes every committed write; Consistent needs no extra transaction here.
func (s *SQLiteJobStore) QueryAll(ctx context.Context, filter types.JobFilter) ([]types.Job, error) {
	where, args := buildWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE `+where+` ORDER BY created_at ASC, id ASC`, args...)
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

func (s *SQLiteJobStore) Claim(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	claimed := make([]string, 0, len(ids))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
				state.StatusActive.String(), id, state.StatusInactive.String())
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected > 0 {
				claimed = append(claimed, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	return claimed, nil
}

func (s *SQLiteJobStore) Update(ctx context.Context, id string, patch types.JobPatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		updated := store.ApplyPatch(*job, patch)
		errorsJSON, err := marshalErrors(updated.Errors)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = ?, attempts_remaining = ?, errors = ? WHERE id = ?`,
			updated.Status.String(), updated.AttemptsRemaining, string(errorsJSON), id)
		return err
	})
}

func (s *SQLiteJobStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrJobNotFound
	}
	return nil
}

func (s *SQLiteJobStore) DeleteAll(ctx context.Context, filter types.JobFilter) (int, error) {
	where, args := buildWhere(filter)
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE `+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *SQLiteJobStore) ReleaseActive(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ?`, state.StatusInactive.String(), state.StatusActive.String())
	if err != nil {
		return 0, fmt.Errorf("failed to release active jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *SQLiteJobStore) CountByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := store.ZeroCounts()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		result[state.JobStatus(status)] = count
	}
	return result, rows.Err()
}

func (s *SQLiteJobStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteJobStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertJob(ctx context.Context, tx *sql.Tx, job types.Job, skipExisting bool) error {
	errorsJSON, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}
	var payload any
	if len(job.Payload) > 0 {
		payload = []byte(job.Payload)
	}
	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if skipExisting {
		query += ` ON CONFLICT (id) DO NOTHING`
	}
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.Name,
		payload,
		job.Status.String(),
		job.TimeoutMs,
		job.AttemptsRemaining,
		string(errorsJSON),
		job.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

func buildWhere(filter types.JobFilter) (string, []any) {
	where := "1=1"
	var args []any

	if filter.Name != "" {
		where += " AND name = ?"
		args = append(args, filter.Name)
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, st.String())
		}
		where += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var job types.Job
	var status, errorsJSON string
	var payload []byte
	var createdAt int64
	if err := row.Scan(
		&job.ID,
		&job.Name,
		&payload,
		&status,
		&job.TimeoutMs,
		&job.AttemptsRemaining,
		&errorsJSON,
		&createdAt,
	); err != nil {
		return nil, err
	}
	job.Status = state.JobStatus(status)
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	if len(payload) > 0 {
		job.Payload = json.RawMessage(payload)
	}
	if errorsJSON != "" {
		if err := json.Unmarshal([]byte(errorsJSON), &job.Errors); err != nil {
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
