package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"thread-erp-go/internal/apiclient"
)

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeFailed
	outcomeConflict
)

// Sync replays pending operations oldest first. It is a no-op while another
// pass runs or while the server is unreachable. A failing operation never
// aborts the pass; a failing store does.
func (q *Queue) Sync(ctx context.Context) (SyncResult, error) {
	q.mu.Lock()
	if q.syncing || !q.net.Online() {
		q.mu.Unlock()
		return SyncResult{}, nil
	}
	q.syncing = true
	q.lastError = ""

	snapshot := make([]QueuedOperation, 0, len(q.operations))
	for _, op := range q.operations {
		if op.Status == StatusPending {
			snapshot = append(snapshot, op.clone())
		}
	}
	q.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	startedAt := q.now()
	result := SyncResult{Total: len(snapshot)}
	var passErr error

	// Bookkeeping after a send must survive caller cancellation.
	persistCtx := context.WithoutCancel(ctx)

	for _, op := range snapshot {
		if err := ctx.Err(); err != nil {
			passErr = err
			break
		}

		got, err := q.syncOperation(ctx, persistCtx, op)
		if err != nil {
			q.release(persistCtx, op)
			passErr = err
			break
		}
		switch got {
		case outcomeSynced:
			result.Success++
		case outcomeConflict:
			result.Conflicts++
		default:
			result.Failed++
		}
	}

	// Reload under the lock so a concurrent Enqueue lands either in the
	// reloaded slice or after it.
	q.mu.Lock()
	operations, reloadErr := q.store.GetAll(persistCtx)
	if reloadErr != nil {
		passErr = errors.Join(passErr, fmt.Errorf("%w: %w", ErrLocalDatabase, reloadErr))
	} else {
		q.operations = operations
	}
	// No pass is running past this point, so nothing may stay in syncing.
	for i := range q.operations {
		if q.operations[i].Status == StatusSyncing {
			q.operations[i].Status = StatusPending
		}
	}

	finishedAt := q.now().UTC()
	q.lastSyncAt = &finishedAt
	q.syncing = false
	if passErr != nil && !errors.Is(passErr, context.Canceled) {
		q.lastError = passErr.Error()
	}
	q.reportDepthLocked()
	q.mu.Unlock()

	q.observer.ObserveSyncPass(result.Success, result.Failed, result.Conflicts, finishedAt.Sub(startedAt))
	q.log.Info("offline.sync: completed",
		"total", result.Total,
		"success", result.Success,
		"failed", result.Failed,
		"conflicts", result.Conflicts,
		"duration_ms", finishedAt.Sub(startedAt).Milliseconds(),
	)

	return result, passErr
}

func (q *Queue) syncOperation(ctx, persistCtx context.Context, op QueuedOperation) (outcome, error) {
	op.Status = StatusSyncing
	if err := q.persist(ctx, op); err != nil {
		return outcomeFailed, err
	}

	sendErr := q.sender.Send(ctx, op.Type.Endpoint(), op.ID, op.Payload)
	if sendErr == nil {
		if err := q.store.DeleteByKey(persistCtx, op.ID); err != nil {
			return outcomeSynced, fmt.Errorf("%w: %w", ErrLocalDatabase, err)
		}
		q.mu.Lock()
		q.operations = removeOperation(q.operations, op.ID)
		q.mu.Unlock()
		q.log.Debug("offline.sync: operation synced", "operation_id", op.ID, "type", op.Type)
		return outcomeSynced, nil
	}

	if apiclient.IsConflict(sendErr) {
		op.Status = StatusConflict
		op.Error = conflictMessage(sendErr)
		q.log.BusinessError("offline.sync: conflict", sendErr, "operation_id", op.ID, "type", op.Type)
		return outcomeConflict, q.persist(persistCtx, op)
	}

	op.RetryCount++
	if op.RetryCount >= MaxRetries {
		op.Status = StatusFailed
		op.Error = failureMessage(sendErr)
	} else {
		op.Status = StatusPending
		op.Error = ""
	}
	q.log.BusinessError("offline.sync: operation failed", sendErr,
		"operation_id", op.ID,
		"type", op.Type,
		"retry_count", op.RetryCount,
		"status", op.Status,
	)
	return outcomeFailed, q.persist(persistCtx, op)
}

// release puts an operation whose bookkeeping failed back to pending so the
// next pass picks it up. The store write is best effort.
func (q *Queue) release(ctx context.Context, op QueuedOperation) {
	op.Status = StatusPending
	if err := q.store.Put(ctx, op); err != nil {
		q.log.InternalError("offline.sync: release failed", err, "operation_id", op.ID)
	}
	q.mu.Lock()
	q.replaceLocked(op)
	q.mu.Unlock()
}

func (q *Queue) persist(ctx context.Context, op QueuedOperation) error {
	if err := q.store.Put(ctx, op); err != nil {
		q.log.InternalError("offline: store put failed", err, "operation_id", op.ID)
		return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}
	q.mu.Lock()
	q.replaceLocked(op)
	q.mu.Unlock()
	return nil
}

func conflictMessage(err error) string {
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Message != "" {
		return conflictDetectedMessage + ": " + statusErr.Message
	}
	return conflictDetectedMessage
}

func failureMessage(err error) string {
	if err == nil {
		return syncFailedMessage
	}
	return err.Error()
}
