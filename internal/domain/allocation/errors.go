package allocation

import "errors"

var (
	ErrAllocationNotFound   = errors.New("allocation not found")
	ErrConflictNotFound     = errors.New("allocation conflict not found")
	ErrInvalidInput         = errors.New("invalid allocation input")
	ErrInvalidPriority      = errors.New("invalid priority")
	ErrInvalidSplitQuantity = errors.New("split quantity must be greater than 0 and less than the requested meters")
	ErrInvalidTransition    = errors.New("allocation state conflict")
	ErrConflictClosed       = errors.New("allocation conflict is already resolved")
)
