/*
Package jobqueue configuration - tunable parameters for the River completion queue.

# River Completion Queue Configuration

  - MaxWorkers bounds how many completions one worker process runs at once.
    Provider rate limits usually matter more than CPU here.
  - JobTimeout caps a single completion, including provider retries.
  - Completion jobs are inserted with MaxAttempts 1. A failed completion is
    terminal for its turn; the user submits a new turn instead of River
    retrying a non-idempotent provider call.

Database requirements: PostgreSQL with River's schema migrations applied
(see Migrate) and a pgx pool sized for MaxWorkers plus the API's inserts.
*/
package jobqueue

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/casebook/internal/config"
)

// QueueCompletions is the River queue completion jobs are inserted into
const QueueCompletions = "completions"

// QueueConfig holds all configurable parameters for the job queue
type QueueConfig struct {
	MaxWorkers int           // concurrent completions per worker process (default: 10)
	JobTimeout time.Duration // maximum time a single completion can run (default: 5 minutes)
}

// DefaultQueueConfig returns the default configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 10,
		JobTimeout: 5 * time.Minute,
	}
}

// QueueConfigFrom derives the queue settings from the executor section
func QueueConfigFrom(cfg config.ExecutorConfig) *QueueConfig {
	qc := DefaultQueueConfig()
	if cfg.MaxWorkers > 0 {
		qc.MaxWorkers = cfg.MaxWorkers
	}
	if cfg.JobTimeout > 0 {
		qc.JobTimeout = cfg.JobTimeout
	}
	return qc
}

// RiverQueueConfig converts our config to River's queue configuration format
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		QueueCompletions: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
