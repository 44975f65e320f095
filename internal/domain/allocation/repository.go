package allocation

import (
	"context"

	"github.com/shopspring/decimal"

	"thread-erp-go/internal/domain/inventory"
)

type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error

	Create(ctx context.Context, allocation *Allocation) error
	Get(ctx context.Context, id int64) (*Allocation, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Allocation, error)
	List(ctx context.Context, filter Filter) ([]Allocation, error)
	Update(ctx context.Context, allocation *Allocation) error
	ListCompeting(ctx context.Context, threadTypeID int64) ([]Allocation, error)

	ListAvailableCones(ctx context.Context, threadTypeID int64, warehouseID *int64) ([]inventory.Cone, error)
	SumAvailableMeters(ctx context.Context, threadTypeID int64) (decimal.Decimal, error)
	AssignCone(ctx context.Context, assignment *AllocationCone) error
	ConeIDsForAllocation(ctx context.Context, allocationID int64) ([]int64, error)
	ReleaseCones(ctx context.Context, allocationID int64) ([]int64, error)
	SetConeStatus(ctx context.Context, coneIDs []int64, status inventory.ConeStatus) error

	GetConflict(ctx context.Context, id int64) (*Conflict, error)
	GetOpenConflict(ctx context.Context, threadTypeID int64) (*Conflict, error)
	SaveConflict(ctx context.Context, conflict *Conflict) error
	ReplaceConflictMembers(ctx context.Context, conflictID int64, allocationIDs []int64) error
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]Conflict, error)
}
