package config

import "time"

const (
	DefaultConcurrency   = 1
	DefaultAttempts      = 1
	DefaultTimeout       = time.Duration(0)
	DefaultStorageDriver = Postgres

	// LifespanBuffer is reserved out of a loop's remaining lifespan for the
	// claim query and the outcome commit.
	LifespanBuffer = 500 * time.Millisecond

	DefaultIdlePollMin = 100 * time.Millisecond
	DefaultIdlePollMax = 2 * time.Second

	DefaultWriterBatchSize     = 1000
	DefaultWriterFlushInterval = 20 * time.Second
)
