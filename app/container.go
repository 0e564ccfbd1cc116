package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/firequeue/client"
	"github.com/RezaEskandarii/firequeue/internal/db"
	"github.com/RezaEskandarii/firequeue/internal/lock"
	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/internal/store"
	"github.com/RezaEskandarii/firequeue/internal/store/memory"
	"github.com/RezaEskandarii/firequeue/internal/store/postgres"
	redisstore "github.com/RezaEskandarii/firequeue/internal/store/redis"
	"github.com/RezaEskandarii/firequeue/internal/store/sqlite"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.QueueConfig

	// Storage connections (created once, shared by the store and the lock manager)
	DB    *sql.DB
	Redis goredis.UniversalClient

	JobStore      store.JobStore
	LockManager   lock.DistributedLockManager
	MessageBroker message_broker.MessageBroker

	Registry      *config.WorkerRegistry
	Queue         *client.Queue
	RecurringJobs *client.RecurringJobs

	closers []func() error
}

// NewContainer creates and wires all dependencies for cfg.StorageDriver.
// Call this once per application lifecycle and Close it on shutdown.
func NewContainer(ctx context.Context, cfg *config.QueueConfig, opts ...ContainerOption) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("queue config is required")
	}
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{Config: cfg}

	if err := c.initStorage(ctx, opt); err != nil {
		c.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if cfg.UseQueueWriter {
		if opt.mBroker != nil {
			c.MessageBroker = opt.mBroker
		} else {
			mBroker, err := message_broker.NewRabbitMQ(*cfg.RabbitMQConfig, cfg.WriterBatchSize)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("init rabbitmq: %w", err)
			}
			c.MessageBroker = mBroker
			c.closers = append(c.closers, mBroker.Close)
		}
	}

	c.Registry = opt.registry
	if c.Registry == nil {
		c.Registry = config.NewWorkerRegistry()
	}

	c.Queue = client.NewQueue(c.JobStore, c.Registry, c.LockManager, c.MessageBroker, cfg)
	c.RecurringJobs = client.NewRecurringJobs(c.Queue)
	return c, nil
}

func (c *Container) initStorage(ctx context.Context, opt *containerConfig) error {
	cfg := c.Config

	switch cfg.StorageDriver {
	case config.Postgres:
		c.DB = opt.db
		if c.DB == nil {
			conn, err := db.Open(ctx, cfg.PostgresConfig.ConnectionUrl)
			if err != nil {
				return fmt.Errorf("open postgres: %w", err)
			}
			c.DB = conn
			c.closers = append(c.closers, conn.Close)
		}
		c.JobStore = postgres.NewPostgresJobStore(c.DB)
		c.LockManager = lock.NewPostgresDistributedLockManager(c.DB)

	case config.Redis:
		c.Redis = opt.redis
		if c.Redis == nil {
			rc := goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisConfig.Address,
				Password: cfg.RedisConfig.Password,
				DB:       cfg.RedisConfig.DB,
			})
			if err := rc.Ping(ctx).Err(); err != nil {
				rc.Close()
				return fmt.Errorf("connect redis: %w", err)
			}
			c.Redis = rc
			c.closers = append(c.closers, rc.Close)
		}
		c.JobStore = redisstore.NewRedisJobStore(c.Redis, cfg.RedisConfig.KeyPrefix)
		c.LockManager = lock.NewRedisDistributedLockManager(c.Redis, cfg.RedisConfig.KeyPrefix, lock.DefaultRedisLockTTL)

	case config.SQLite:
		if opt.db != nil {
			c.DB = opt.db
			s := sqlite.NewSQLiteJobStore(opt.db)
			if err := s.Migrate(ctx); err != nil {
				return err
			}
			c.JobStore = s
		} else {
			s, err := sqlite.Open(ctx, cfg.SQLiteConfig.Path)
			if err != nil {
				return fmt.Errorf("open sqlite: %w", err)
			}
			c.JobStore = s
			c.closers = append(c.closers, s.Close)
		}
		c.LockManager = lock.NewLocalLockManager()

	case config.Memory:
		c.JobStore = memory.NewMemoryJobStore()
		c.LockManager = lock.NewLocalLockManager()

	default:
		return fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}
	return nil
}

// Migrate prepares the schema of stores that need one. SQLite migrates on open.
func (c *Container) Migrate(ctx context.Context) error {
	if c.Config.StorageDriver != config.Postgres {
		return nil
	}
	return db.Init(ctx, c.DB, c.LockManager, c.Config.Logger)
}

// Close stops the queue and releases every connection the container opened.
func (c *Container) Close() error {
	if c.Queue != nil {
		c.Queue.Stop()
		c.Queue.Wait()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
