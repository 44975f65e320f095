package sync

import "context"

type Repository interface {
	BeginBatch(ctx context.Context, batch *BatchRecord) (bool, *BatchRecord, error)
	CompleteBatch(ctx context.Context, batchID string, status BatchState, responseJSON []byte) error
	// ReserveOperation claims (device_id, operation_id). When the pair is taken it
	// returns false and the stored receipt.
	ReserveOperation(ctx context.Context, operation *OperationRecord) (bool, *OperationRecord, error)
	CompleteOperation(ctx context.Context, operation *OperationRecord) error
	ReleaseOperation(ctx context.Context, id string) error
}
