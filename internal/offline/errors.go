package offline

import "errors"

var (
	ErrLocalDatabase        = errors.New("local database error")
	ErrDuplicateKey         = errors.New("operation id already exists")
	ErrOperationNotFound    = errors.New("operation not found")
	ErrUnsupportedOperation = errors.New("unsupported operation type")
	ErrInvalidPayload       = errors.New("operation payload must be a json object")
	ErrInvalidResolution    = errors.New("invalid conflict resolution")
)

const (
	conflictDetectedMessage = "server reported a conflict"
	syncFailedMessage       = "sync failed"
)
