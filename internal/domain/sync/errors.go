package sync

import "errors"

var (
	ErrOperationsRequired            = errors.New("operations are required")
	ErrOperationIDRequired           = errors.New("operation id is required")
	ErrPayloadRequired               = errors.New("operation payload is required")
	ErrUnsupportedOperation          = errors.New("unsupported operation type")
	ErrBatchTooLarge                 = errors.New("sync batch too large")
	ErrIdempotencyKeyPayloadMismatch = errors.New("idempotency key payload mismatch")
	ErrBatchInProgress               = errors.New("sync batch in progress")
	ErrOperationInProgress           = errors.New("operation is being processed")
)
