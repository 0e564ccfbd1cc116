package jobmanager

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/RezaEskandarii/firequeue/app"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// New initializes the whole firequeue system for cfg.
//
// The function performs the following steps:
//  1. Connects to the backend selected by cfg.StorageDriver and wires the store,
//     lock manager and, in queue writer mode, the RabbitMQ broker.
//  2. Runs schema migrations under the migration lock when Postgres is used.
//  3. Starts the worker that moves published jobs into the store if the queue
//     writer is enabled.
//
// The returned container is closed once ctx is done. Callers that need an
// earlier shutdown may call Close themselves.
func New(ctx context.Context, cfg *config.QueueConfig, opts ...app.ContainerOption) (*app.Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue config is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger.Debug("booting firequeue", "instance", cfg.Instance, "gomaxprocs", runtime.GOMAXPROCS(0))

	container, err := app.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := container.Migrate(ctx); err != nil {
		container.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if err := container.Queue.StartQueueAndStorageSyncWorker(ctx); err != nil {
		container.Close()
		return nil, fmt.Errorf("start queue writer: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := container.Close(); err != nil {
			cfg.Logger.Error("failed to close container", "error", err)
		}
	}()

	return container, nil
}
