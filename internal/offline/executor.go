package offline

import (
	"context"

	"thread-erp-go/internal/apiclient"
)

// Request describes an operation that may run directly or through the queue.
// Direct receives the operation id so a direct attempt and a later replay
// share one idempotency key.
type Request[T any] struct {
	Type    OperationType
	Payload any
	Direct  func(ctx context.Context, operationID string) (T, error)
}

type Result[T any] struct {
	Success   bool
	Data      T
	Queued    bool
	Operation *QueuedOperation
	Err       error
}

// Execute calls the server while online and falls back to the queue when the
// server is unreachable or the call fails for connectivity reasons.
func Execute[T any](ctx context.Context, q *Queue, req Request[T]) Result[T] {
	id := q.newID(q.now())

	if q.Online() && req.Direct != nil {
		data, err := req.Direct(ctx, id)
		if err == nil {
			return Result[T]{Success: true, Data: data}
		}
		if !apiclient.IsConnectivityError(err) {
			q.log.BusinessError("offline.execute: direct call failed", err, "type", req.Type)
			return Result[T]{Err: err}
		}
		q.log.Warn("offline.execute: server unreachable, queueing", "type", req.Type, "err", err)
		// The direct call may have used up the caller's deadline.
		ctx = context.WithoutCancel(ctx)
	}

	op, err := q.enqueue(ctx, id, req.Type, req.Payload)
	if err != nil {
		return Result[T]{Err: err}
	}
	return Result[T]{Success: true, Queued: true, Operation: &op}
}
