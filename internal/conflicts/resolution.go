package conflicts

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	allocationdomain "thread-erp-go/internal/domain/allocation"
)

var (
	ErrConflictRequired      = errors.New("conflict id is required")
	ErrAllocationRequired    = errors.New("allocation id is required")
	ErrPriorityRequired      = errors.New("a valid priority is required")
	ErrInvalidSplitQuantity  = errors.New("split quantity must be positive and less than the requested meters")
	ErrUnsupportedResolution = errors.New("unsupported resolution type")
	ErrConflictNotFound      = errors.New("conflict not found")
)

type ResolutionType string

const (
	ResolutionPriority ResolutionType = "priority"
	ResolutionCancel   ResolutionType = "cancel"
	ResolutionSplit    ResolutionType = "split"
	ResolutionEscalate ResolutionType = "escalate"
)

type ResolveRequest struct {
	ConflictID     int64                     `json:"conflict_id"`
	ResolutionType ResolutionType            `json:"resolution_type"`
	AllocationID   int64                     `json:"allocation_id,omitempty"`
	NewPriority    allocationdomain.Priority `json:"new_priority,omitempty"`
	SplitQuantity  decimal.Decimal           `json:"split_quantity"`
	Notes          string                    `json:"notes,omitempty"`
}

// ValidateResolution checks a request before it reaches the server. When the
// target allocation is among competing, a split is also checked against its
// requested meters; otherwise the server has the final word.
func ValidateResolution(req ResolveRequest, competing []allocationdomain.Allocation) error {
	if req.ConflictID <= 0 {
		return ErrConflictRequired
	}

	switch req.ResolutionType {
	case ResolutionEscalate:
		return nil
	case ResolutionPriority:
		if req.AllocationID <= 0 {
			return ErrAllocationRequired
		}
		if !req.NewPriority.Valid() {
			return ErrPriorityRequired
		}
		return nil
	case ResolutionCancel:
		if req.AllocationID <= 0 {
			return ErrAllocationRequired
		}
		return nil
	case ResolutionSplit:
		if req.AllocationID <= 0 {
			return ErrAllocationRequired
		}
		if !req.SplitQuantity.IsPositive() {
			return ErrInvalidSplitQuantity
		}
		for _, allocation := range competing {
			if allocation.ID == req.AllocationID && req.SplitQuantity.GreaterThanOrEqual(allocation.RequestedMeters) {
				return fmt.Errorf("%w: %s of %s meters", ErrInvalidSplitQuantity, req.SplitQuantity, allocation.RequestedMeters)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedResolution, req.ResolutionType)
	}
}
