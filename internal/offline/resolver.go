package offline

import (
	"context"
	"fmt"
)

// ResolveConflict settles an operation the server rejected with a conflict.
func (q *Queue) ResolveConflict(ctx context.Context, id string, resolution Resolution) error {
	if !resolution.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, resolution)
	}

	op, ok := q.Get(id)
	if !ok || op.Status != StatusConflict {
		return ErrOperationNotFound
	}

	switch resolution {
	case ResolutionRetry:
		if err := q.resetForRetry(ctx, op); err != nil {
			return err
		}
	case ResolutionDiscard:
		if err := q.Dequeue(ctx, id); err != nil {
			return err
		}
	case ResolutionManual:
		syncedAt := q.now().UTC()
		op.Status = StatusSynced
		op.SyncedAt = &syncedAt
		if err := q.persist(ctx, op); err != nil {
			return err
		}
	}

	q.mu.Lock()
	q.reportDepthLocked()
	q.mu.Unlock()

	q.log.Info("offline.resolve: conflict resolved", "operation_id", id, "resolution", resolution)
	return nil
}

// RetryFailed puts an operation that ran out of retries back in the queue.
func (q *Queue) RetryFailed(ctx context.Context, id string) error {
	op, ok := q.Get(id)
	if !ok || op.Status != StatusFailed {
		return ErrOperationNotFound
	}
	if err := q.resetForRetry(ctx, op); err != nil {
		return err
	}

	q.mu.Lock()
	q.reportDepthLocked()
	q.mu.Unlock()

	q.log.Info("offline.retry: operation requeued", "operation_id", id)
	return nil
}

func (q *Queue) resetForRetry(ctx context.Context, op QueuedOperation) error {
	op.Status = StatusPending
	op.RetryCount = 0
	op.Error = ""
	if err := q.persist(ctx, op); err != nil {
		return err
	}
	if q.net.Online() {
		q.triggerSync()
	}
	return nil
}
