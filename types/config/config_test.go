package config

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/RezaEskandarii/firequeue/custom_errors"
)

func TestStorageDriver_String(t *testing.T) {
	tests := []struct {
		name     string
		driver   StorageDriver
		expected string
	}{
		{name: "Postgres driver", driver: Postgres, expected: "postgres"},
		{name: "Redis driver", driver: Redis, expected: "redis"},
		{name: "SQLite driver", driver: SQLite, expected: "sqlite"},
		{name: "Memory driver", driver: Memory, expected: "memory"},
		{name: "Unknown driver", driver: StorageDriver(999), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.driver.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMessageQueueDriver_String(t *testing.T) {
	if RabbitMQ.String() != "rabbitmq" {
		t.Errorf("String() = %v, want rabbitmq", RabbitMQ.String())
	}
	if MessageQueueDriver(42).String() != "unknown" {
		t.Errorf("String() = %v, want unknown", MessageQueueDriver(42).String())
	}
}

func TestNewQueueConfig_Defaults(t *testing.T) {
	cfg, err := NewQueueConfig("test-instance")
	if err != nil {
		t.Fatalf("NewQueueConfig() error = %v", err)
	}
	if cfg.Instance != "test-instance" {
		t.Errorf("Instance = %v, want test-instance", cfg.Instance)
	}
	if cfg.StorageDriver != DefaultStorageDriver {
		t.Errorf("StorageDriver = %v, want %v", cfg.StorageDriver, DefaultStorageDriver)
	}
	if cfg.IdlePollMin != DefaultIdlePollMin || cfg.IdlePollMax != DefaultIdlePollMax {
		t.Errorf("idle poll = %v..%v, want defaults", cfg.IdlePollMin, cfg.IdlePollMax)
	}
	if cfg.Logger == nil {
		t.Errorf("Logger should default to slog.Default()")
	}
	if cfg.UseQueueWriter {
		t.Errorf("UseQueueWriter should be off by default")
	}
}

func TestNewQueueConfig_RequiresInstance(t *testing.T) {
	_, err := NewQueueConfig("")
	if err == nil {
		t.Fatal("expected error for empty instance")
	}
}

func TestNewQueueConfig_StorageOptions(t *testing.T) {
	cfg, err := NewQueueConfig("i", WithPostgresConfig(PostgresConfig{ConnectionUrl: "postgres://x"}))
	if err != nil || cfg.StorageDriver != Postgres {
		t.Fatalf("postgres: cfg=%v err=%v", cfg, err)
	}

	cfg, err = NewQueueConfig("i", WithRedisConfig(RedisConfig{Address: "localhost:6379"}))
	if err != nil || cfg.StorageDriver != Redis {
		t.Fatalf("redis: cfg=%v err=%v", cfg, err)
	}

	cfg, err = NewQueueConfig("i", WithSQLiteConfig(SQLiteConfig{Path: "/tmp/q.db"}))
	if err != nil || cfg.StorageDriver != SQLite {
		t.Fatalf("sqlite: cfg=%v err=%v", cfg, err)
	}

	cfg, err = NewQueueConfig("i", WithMemoryStorage())
	if err != nil || cfg.StorageDriver != Memory {
		t.Fatalf("memory: cfg=%v err=%v", cfg, err)
	}
}

func TestNewQueueConfig_AggregatesValidationErrors(t *testing.T) {
	_, err := NewQueueConfig("i",
		WithPostgresConfig(PostgresConfig{}),
		WithRedisConfig(RedisConfig{}),
		WithIdlePollBackoff(time.Second, time.Millisecond),
		WithLogger(nil),
	)
	var vErr *custom_errors.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(vErr.Errors) != 4 {
		t.Errorf("len(Errors) = %d, want 4", len(vErr.Errors))
	}
}

func TestNewQueueConfig_QueueWriter(t *testing.T) {
	if _, err := NewQueueConfig("i", UseRabbitMQueueWriter(true)); err == nil {
		t.Errorf("queue writer without rabbitmq config should fail")
	}

	cfg, err := NewQueueConfig("i", WithRabbitMQConfig(RabbitMQConfig{URL: "amqp://localhost", Queue: "jobs"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.UseQueueWriter || cfg.MQDriver != RabbitMQ {
		t.Errorf("rabbitmq config should enable the queue writer")
	}

	if _, err := NewQueueConfig("i", WithRabbitMQConfig(RabbitMQConfig{URL: "amqp://localhost"})); err == nil {
		t.Errorf("missing queue name should fail")
	}
}

func TestWithWriterBatching(t *testing.T) {
	cfg, err := NewQueueConfig("i", WithWriterBatching(10, time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WriterBatchSize != 10 || cfg.WriterFlushInterval != time.Second {
		t.Errorf("writer batching not applied: %d %v", cfg.WriterBatchSize, cfg.WriterFlushInterval)
	}
	if _, err := NewQueueConfig("i", WithWriterBatching(0, time.Second)); err == nil {
		t.Errorf("zero batch size should fail")
	}
}

func TestWithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := NewQueueConfig("i", WithLogger(logger))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Logger != logger {
		t.Errorf("logger not applied")
	}
}
