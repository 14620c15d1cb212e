package queue

import (
	"context"
	"time"
)

// Package queue provides the buffering layer between the chat request path
// and the usage ledger. Ledger writes are taken off the request path: the
// handler enqueues, a batch worker drains into PostgreSQL. Two backends:
//
//   - Memory: channel-based, no persistence, no external dependencies.
//     Suits single-instance and development deployments.
//   - Redis: list-based, survives restarts and supports multiple portal
//     replicas draining the same queue.
//
// Failed batches retry with exponential backoff; items that exhaust their
// retries land in a dead letter queue for operator inspection.

// Queue is a FIFO buffer of ledger items
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item any) error

	// Dequeue blocks until at least one item is available, then drains up
	// to maxItems without blocking further.
	Dequeue(ctx context.Context, maxItems int) ([]any, error)

	// DequeueWithTimeout behaves like Dequeue but gives up after timeout,
	// returning an empty slice.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]any, error)

	// Length returns the current queue depth
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds items whose processing permanently failed
type DeadLetterQueue interface {
	// Add parks a failed item together with its last error
	Add(ctx context.Context, item any, err error) error

	// List returns up to maxItems parked items (0 means all)
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove drops a parked item by ID
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is one parked item
type DeadLetterItem struct {
	ID        string
	Item      any
	Error     string
	Timestamp time.Time
	Retries   int
}

// Config holds queue configuration
type Config struct {
	// BatchSize caps how many items a worker drains per cycle
	BatchSize int

	// BatchTimeout is how long a worker waits before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries caps per-item retry attempts before the DLQ
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend over the in-memory one
	UseRedis bool

	// Redis connection settings, used when UseRedis is set
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// QueueName namespaces the Redis keys
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}
