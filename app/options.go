package app

import (
	"database/sql"

	goredis "github.com/redis/go-redis/v9"

	"github.com/RezaEskandarii/firequeue/internal/message_broker"
	"github.com/RezaEskandarii/firequeue/types/config"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// injected connections are not closed by the container
	db       *sql.DB
	redis    goredis.UniversalClient
	mBroker  message_broker.MessageBroker
	registry *config.WorkerRegistry
}

// WithDB injects a database connection for the Postgres or SQLite driver.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects a Redis client for the Redis driver.
func WithRedis(client goredis.UniversalClient) ContainerOption {
	return func(c *containerConfig) {
		c.redis = client
	}
}

// WithMessageBroker injects the broker used in queue writer mode.
func WithMessageBroker(mBroker message_broker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.mBroker = mBroker
	}
}

// WithRegistry shares an existing worker registry with the queue.
func WithRegistry(registry *config.WorkerRegistry) ContainerOption {
	return func(c *containerConfig) {
		c.registry = registry
	}
}
