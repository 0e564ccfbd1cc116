package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/RezaEskandarii/firequeue/internal/constants"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	_ "github.com/lib/pq"
)

const schema = "firequeue_schema"

//go:embed migrations/*.sql
var migrations embed.FS

// Open opens a Postgres pool and verifies it with a ping.
func Open(ctx context.Context, postgresURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Init creates the schema and runs every migration script in name order.
// The migration lock keeps concurrently starting processes from racing on DDL.
func Init(ctx context.Context, db *sql.DB, distributedLock lock.DistributedLockManager, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if err := distributedLock.Acquire(ctx, constants.MigrationLock); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	defer func() {
		if err := distributedLock.Release(ctx, constants.MigrationLock); err != nil {
			logger.Error("failed to release migration lock", "error", err)
		}
	}()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		logger.Debug("running migration", "script", script.name)
		if _, err := db.ExecContext(ctx, script.body); err != nil {
			return fmt.Errorf("migration %s failed: %w", script.name, err)
		}
	}
	return nil
}

type sqlScript struct {
	name string
	body string
}

func readSQLScripts() ([]sqlScript, error) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var scripts []sqlScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := migrations.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, sqlScript{name: entry.Name(), body: string(content)})
	}

	sort.Slice(scripts, func(i, k int) bool { return scripts[i].name < scripts[k].name })
	return scripts, nil
}
