package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TableAllocations     = "thread_allocations"
	TableAllocationCones = "thread_allocation_cones"
	TableConflicts       = "allocation_conflicts"
	TableConflictMembers = "allocation_conflict_members"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusSoft           Status = "SOFT"
	StatusHard           Status = "HARD"
	StatusIssued         Status = "ISSUED"
	StatusCancelled      Status = "CANCELLED"
	StatusWaitlisted     Status = "WAITLISTED"
	StatusApproved       Status = "APPROVED"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusReceived       Status = "RECEIVED"
	StatusRejected       Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSoft, StatusHard, StatusIssued, StatusCancelled, StatusWaitlisted,
		StatusApproved, StatusReadyForPickup, StatusReceived, StatusRejected:
		return true
	default:
		return false
	}
}

// Competing allocations still wait for stock and take part in conflict detection.
func (s Status) Competing() bool {
	return s == StatusPending || s == StatusWaitlisted
}

// Open allocations can still be re-prioritised, split or cancelled.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusSoft, StatusWaitlisted, StatusApproved:
		return true
	default:
		return false
	}
}

type ConflictStatus string

const (
	ConflictStatusPending   ConflictStatus = "PENDING"
	ConflictStatusResolved  ConflictStatus = "RESOLVED"
	ConflictStatusEscalated ConflictStatus = "ESCALATED"
)

func (s ConflictStatus) Valid() bool {
	return s == ConflictStatusPending || s == ConflictStatusResolved || s == ConflictStatusEscalated
}

type Allocation struct {
	ID                    int64           `gorm:"primaryKey" json:"id"`
	OrderID               string          `gorm:"not null;index" json:"order_id"`
	OrderReference        *string         `json:"order_reference,omitempty"`
	ThreadTypeID          int64           `gorm:"not null;index" json:"thread_type_id"`
	RequestedMeters       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"requested_meters"`
	AllocatedMeters       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"allocated_meters"`
	Status                Status          `gorm:"not null;index" json:"status"`
	Priority              Priority        `gorm:"not null" json:"priority"`
	PriorityScore         int             `gorm:"not null" json:"priority_score"`
	RequestedDate         time.Time       `gorm:"not null" json:"requested_date"`
	DueDate               *time.Time      `json:"due_date,omitempty"`
	Notes                 *string         `json:"notes,omitempty"`
	RequestingWarehouseID *int64          `json:"requesting_warehouse_id,omitempty"`
	SourceWarehouseID     *int64          `json:"source_warehouse_id,omitempty"`
	SplitFromID           *int64          `json:"split_from_id,omitempty"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Allocation) TableName() string {
	return TableAllocations
}

func (a Allocation) Outstanding() decimal.Decimal {
	remaining := a.RequestedMeters.Sub(a.AllocatedMeters)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

type AllocationCone struct {
	ID              int64           `gorm:"primaryKey" json:"id"`
	AllocationID    int64           `gorm:"not null;index" json:"allocation_id"`
	ConeID          int64           `gorm:"not null;index" json:"cone_id"`
	AllocatedMeters decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"allocated_meters"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (AllocationCone) TableName() string {
	return TableAllocationCones
}

type Conflict struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	ThreadTypeID         int64           `gorm:"not null;index" json:"thread_type_id"`
	TotalRequested       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_requested"`
	TotalAvailable       decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"total_available"`
	Shortage             decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"shortage"`
	Status               ConflictStatus  `gorm:"not null;index" json:"status"`
	ResolutionNotes      *string         `json:"resolution_notes,omitempty"`
	ResolvedBy           *string         `json:"resolved_by,omitempty"`
	ResolvedAt           *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	CompetingAllocations []Allocation    `gorm:"-" json:"competing_allocations"`
}

func (Conflict) TableName() string {
	return TableConflicts
}

type ConflictMember struct {
	ConflictID   int64 `gorm:"primaryKey" json:"conflict_id"`
	AllocationID int64 `gorm:"primaryKey" json:"allocation_id"`
	Rank         int   `gorm:"not null" json:"rank"`
}

func (ConflictMember) TableName() string {
	return TableConflictMembers
}

type CreateInput struct {
	OrderID               string          `json:"order_id"`
	OrderReference        string          `json:"order_reference,omitempty"`
	ThreadTypeID          int64           `json:"thread_type_id"`
	RequestedMeters       decimal.Decimal `json:"requested_meters"`
	Priority              Priority        `json:"priority,omitempty"`
	DueDate               *time.Time      `json:"due_date,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	RequestingWarehouseID *int64          `json:"requesting_warehouse_id,omitempty"`
	SourceWarehouseID     *int64          `json:"source_warehouse_id,omitempty"`
}

type Filter struct {
	Status       *Status
	ThreadTypeID *int64
	OrderID      string
	Priority     *Priority
	Limit        int
}

type ConflictFilter struct {
	Status       *ConflictStatus
	ThreadTypeID *int64
}

type SplitInput struct {
	AllocationID int64
	SplitMeters  decimal.Decimal
	Reason       string
}

type SplitResult struct {
	Original Allocation `json:"original"`
	Created  Allocation `json:"created"`
}

type RunResult struct {
	ThreadTypeID int64        `json:"thread_type_id"`
	Allocated    []Allocation `json:"allocated"`
	Waiting      []Allocation `json:"waiting"`
	Conflict     *Conflict    `json:"conflict,omitempty"`
}
