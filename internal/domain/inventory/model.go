package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TableThreadTypes = "thread_types"
	TableCones       = "thread_cones"
	TableRecoveries  = "thread_recoveries"

	MaxConesPerReceipt = 500
)

type ConeStatus string

const (
	ConeStatusReceived      ConeStatus = "RECEIVED"
	ConeStatusInspected     ConeStatus = "INSPECTED"
	ConeStatusAvailable     ConeStatus = "AVAILABLE"
	ConeStatusSoftAllocated ConeStatus = "SOFT_ALLOCATED"
	ConeStatusHardAllocated ConeStatus = "HARD_ALLOCATED"
	ConeStatusInProduction  ConeStatus = "IN_PRODUCTION"
	ConeStatusPartialReturn ConeStatus = "PARTIAL_RETURN"
	ConeStatusPendingWeigh  ConeStatus = "PENDING_WEIGH"
	ConeStatusConsumed      ConeStatus = "CONSUMED"
	ConeStatusWrittenOff    ConeStatus = "WRITTEN_OFF"
	ConeStatusQuarantine    ConeStatus = "QUARANTINE"
)

func (s ConeStatus) Valid() bool {
	switch s {
	case ConeStatusReceived, ConeStatusInspected, ConeStatusAvailable, ConeStatusSoftAllocated,
		ConeStatusHardAllocated, ConeStatusInProduction, ConeStatusPartialReturn, ConeStatusPendingWeigh,
		ConeStatusConsumed, ConeStatusWrittenOff, ConeStatusQuarantine:
		return true
	default:
		return false
	}
}

type RecoveryStatus string

const (
	RecoveryStatusInitiated    RecoveryStatus = "INITIATED"
	RecoveryStatusPendingWeigh RecoveryStatus = "PENDING_WEIGH"
	RecoveryStatusWeighed      RecoveryStatus = "WEIGHED"
	RecoveryStatusConfirmed    RecoveryStatus = "CONFIRMED"
	RecoveryStatusWrittenOff   RecoveryStatus = "WRITTEN_OFF"
	RecoveryStatusRejected     RecoveryStatus = "REJECTED"
)

type ThreadType struct {
	ID                   int64           `gorm:"primaryKey" json:"id"`
	Code                 string          `gorm:"not null;uniqueIndex" json:"code"`
	Name                 string          `gorm:"not null" json:"name"`
	Color                *string         `json:"color,omitempty"`
	MetersPerGram        decimal.Decimal `gorm:"type:numeric(12,4);not null" json:"meters_per_gram"`
	DefaultMetersPerCone decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"default_meters_per_cone"`
	TareWeightGrams      decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"tare_weight_grams"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ThreadType) TableName() string {
	return TableThreadTypes
}

type Cone struct {
	ID             int64            `gorm:"primaryKey" json:"id"`
	ConeID         string           `gorm:"column:cone_id;not null;uniqueIndex" json:"cone_id"`
	ThreadTypeID   int64            `gorm:"not null;index" json:"thread_type_id"`
	WarehouseID    int64            `gorm:"not null;index" json:"warehouse_id"`
	QuantityMeters decimal.Decimal  `gorm:"type:numeric(14,2);not null" json:"quantity_meters"`
	WeightGrams    *decimal.Decimal `gorm:"type:numeric(10,2)" json:"weight_grams,omitempty"`
	IsPartial      bool             `gorm:"not null;default:false" json:"is_partial"`
	Status         ConeStatus       `gorm:"not null;index" json:"status"`
	LotNumber      *string          `json:"lot_number,omitempty"`
	ExpiryDate     *time.Time       `gorm:"type:date" json:"expiry_date,omitempty"`
	Location       *string          `json:"location,omitempty"`
	Department     *string          `json:"department,omitempty"`
	ReceivedDate   time.Time        `gorm:"not null" json:"received_date"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Cone) TableName() string {
	return TableCones
}

type Recovery struct {
	ID                  int64            `gorm:"primaryKey" json:"id"`
	ConeID              int64            `gorm:"not null;index" json:"cone_id"`
	OriginalMeters      decimal.Decimal  `gorm:"type:numeric(14,2);not null" json:"original_meters"`
	ReturnedWeightGrams *decimal.Decimal `gorm:"type:numeric(10,2)" json:"returned_weight_grams,omitempty"`
	TareWeightGrams     decimal.Decimal  `gorm:"type:numeric(10,2);not null" json:"tare_weight_grams"`
	RemainingMeters     decimal.Decimal  `gorm:"type:numeric(14,2);not null" json:"remaining_meters"`
	ConsumptionMeters   decimal.Decimal  `gorm:"type:numeric(14,2);not null" json:"consumption_meters"`
	Status              RecoveryStatus   `gorm:"not null" json:"status"`
	ReturnedBy          string           `gorm:"not null" json:"returned_by"`
	Notes               *string          `json:"notes,omitempty"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (Recovery) TableName() string {
	return TableRecoveries
}

type ReceiveInput struct {
	ThreadTypeID       int64            `json:"thread_type_id"`
	WarehouseID        int64            `json:"warehouse_id"`
	QuantityCones      int              `json:"quantity_cones"`
	WeightPerConeGrams *decimal.Decimal `json:"weight_per_cone_grams,omitempty"`
	LotNumber          string           `json:"lot_number,omitempty"`
	ExpiryDate         *time.Time       `json:"expiry_date,omitempty"`
	Location           string           `json:"location,omitempty"`
}

type ReceiveResult struct {
	Cones       []Cone          `json:"cones"`
	TotalMeters decimal.Decimal `json:"total_meters"`
}

type IssueInput struct {
	ConeIDs    []string `json:"cone_ids"`
	Department string   `json:"department"`
	IssuedBy   string   `json:"issued_by,omitempty"`
}

type IssueResult struct {
	Cones       []Cone          `json:"cones"`
	TotalMeters decimal.Decimal `json:"total_meters"`
}

type RecoveryInput struct {
	ConeID              string           `json:"cone_id"`
	ReturnedWeightGrams *decimal.Decimal `json:"returned_weight_grams,omitempty"`
	TareWeightGrams     *decimal.Decimal `json:"tare_weight_grams,omitempty"`
	ReturnedBy          string           `json:"returned_by"`
	Notes               string           `json:"notes,omitempty"`
}

type RecoveryResult struct {
	Recovery Recovery `json:"recovery"`
	Cone     Cone     `json:"cone"`
}

type ConeFilter struct {
	WarehouseID  *int64
	ThreadTypeID *int64
	Status       *ConeStatus
	Limit        int
}

type StockSummary struct {
	ThreadTypeID    int64           `json:"thread_type_id"`
	WarehouseID     int64           `json:"warehouse_id"`
	AvailableCones  int64           `json:"available_cones"`
	AvailableMeters decimal.Decimal `json:"available_meters"`
	AllocatedMeters decimal.Decimal `json:"allocated_meters"`
	PartialCones    int64           `json:"partial_cones"`
}
