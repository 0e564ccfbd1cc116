package config

type StorageDriver int

const (
	Postgres StorageDriver = iota + 1
	Redis
	SQLite
	Memory
)

type MessageQueueDriver int

const (
	RabbitMQ MessageQueueDriver = iota + 1
)

func (d MessageQueueDriver) String() string {
	switch d {
	case RabbitMQ:
		return "rabbitmq"
	default:
		return "unknown"
	}
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	switch d {
	case Redis:
		return "redis"
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	case Memory:
		return "memory"
	}
	return "unknown"
}
