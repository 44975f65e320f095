package offline

import "context"

// Store persists queued operations. It is the source of truth for the queue.
type Store interface {
	// GetAll returns every operation ordered by creation time, oldest first.
	GetAll(ctx context.Context) ([]QueuedOperation, error)
	// Add fails with ErrDuplicateKey when the id is already stored.
	Add(ctx context.Context, op QueuedOperation) error
	Put(ctx context.Context, op QueuedOperation) error
	DeleteByKey(ctx context.Context, id string) error
	DeleteByIndex(ctx context.Context, status Status) error
	Clear(ctx context.Context) error
}
