package ports

import (
	"context"
	"mailbridge/internal/domain"
	"time"
)

// Queue is the durable command queue. Every method is atomic against the
// backing store.
type Queue interface {
	// Enqueue inserts a pending job. created is false when a job with the same
	// non-empty dedup key already exists; that is not an error.
	Enqueue(ctx context.Context, j domain.NewJob) (id int64, created bool, err error)
	// Dequeue claims the oldest pending job. It returns nil when the queue is
	// empty or another process holds the store lock.
	Dequeue(ctx context.Context) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id int64, status domain.Status, result, errMsg string) error
	IncrementRetry(ctx context.Context, id int64) (int, error)
	ShouldRetry(ctx context.Context, id int64, maxRetries int) (bool, error)
	ResetStuck(ctx context.Context, timeout time.Duration) (int64, error)
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
	Stats(ctx context.Context) (map[domain.Status]int, error)
	Close() error
}

// Admin exposes read and repair operations used by the API and the CLI.
type Admin interface {
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context, status domain.Status, limit int) ([]domain.Job, error)
	Requeue(ctx context.Context, id int64) error
}
