package sync

import (
	"encoding/json"
	"time"

	"thread-erp-go/internal/domain/allocation"
	"thread-erp-go/internal/domain/inventory"
)

const MaxBatchOperations = 100

type OperationType string

const (
	OperationTypeStockReceipt OperationType = "stock_receipt"
	OperationTypeIssue        OperationType = "issue"
	OperationTypeRecovery     OperationType = "recovery"
	OperationTypeAllocation   OperationType = "allocation"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationTypeStockReceipt, OperationTypeIssue, OperationTypeRecovery, OperationTypeAllocation:
		return true
	default:
		return false
	}
}

type ResultStatus string

const (
	ResultStatusApplied   ResultStatus = "applied"
	ResultStatusDuplicate ResultStatus = "duplicate"
	ResultStatusFailed    ResultStatus = "failed"
	ResultStatusConflict  ResultStatus = "conflict"
)

type BatchStatus string

const (
	BatchStatusSuccess        BatchStatus = "success"
	BatchStatusPartialSuccess BatchStatus = "partial_success"
	BatchStatusFailed         BatchStatus = "failed"
)

type ErrorCode string

const (
	ErrorCodeInvalidRequest                ErrorCode = "invalid_request"
	ErrorCodeInvalidJSON                   ErrorCode = "invalid_json"
	ErrorCodeValidationFailed              ErrorCode = "validation_failed"
	ErrorCodeUnsupportedOperationType      ErrorCode = "unsupported_operation_type"
	ErrorCodeOperationPayloadMismatch      ErrorCode = "operation_payload_mismatch"
	ErrorCodeOperationInProgress           ErrorCode = "operation_in_progress"
	ErrorCodeThreadTypeNotFound            ErrorCode = "thread_type_not_found"
	ErrorCodeConeNotFound                  ErrorCode = "cone_not_found"
	ErrorCodeStateConflict                 ErrorCode = "state_conflict"
	ErrorCodeSyncBatchTooLarge             ErrorCode = "sync_batch_too_large"
	ErrorCodeIdempotencyKeyPayloadMismatch ErrorCode = "idempotency_key_payload_mismatch"
	ErrorCodeBatchInProgress               ErrorCode = "batch_in_progress"
	ErrorCodeInternalError                 ErrorCode = "internal_error"
)

type Entity string

const (
	EntityCone       Entity = "cone"
	EntityRecovery   Entity = "recovery"
	EntityAllocation Entity = "allocation"
)

type BatchState string

const (
	BatchStateProcessing BatchState = "processing"
	BatchStateCompleted  BatchState = "completed"
)

type OperationState string

const (
	OperationStatePending OperationState = "pending"
	OperationStateApplied OperationState = "applied"
)

type BatchInput struct {
	DeviceID       string
	IdempotencyKey string
	Operations     []OperationInput
}

// OperationInput is one queued client operation. Exactly one payload matches Type.
type OperationInput struct {
	OperationID  string
	Type         OperationType
	StockReceipt *inventory.ReceiveInput
	Issue        *inventory.IssueInput
	Recovery     *inventory.RecoveryInput
	Allocation   *allocation.CreateInput
}

type ApplyResult struct {
	OperationID string
	Replayed    bool
	Entity      Entity
	ServerID    string
	Response    json.RawMessage
}

type BatchResponse struct {
	SyncID     string            `json:"sync_id"`
	Status     BatchStatus       `json:"status"`
	Summary    BatchSummary      `json:"summary"`
	Results    []OperationResult `json:"results"`
	ServerTime time.Time         `json:"server_time"`
}

type BatchSummary struct {
	Total     int `json:"total"`
	Applied   int `json:"applied"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
	Conflict  int `json:"conflict"`
}

type OperationResult struct {
	OperationID string          `json:"operation_id"`
	Type        OperationType   `json:"type"`
	Status      ResultStatus    `json:"status"`
	Entity      *Entity         `json:"entity,omitempty"`
	ServerID    *string         `json:"server_id,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       *OperationError `json:"error,omitempty"`
}

type OperationError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

type BatchRecord struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	DeviceID       string     `gorm:"not null;index;column:device_id"`
	IdempotencyKey *string    `gorm:"column:idempotency_key"`
	RequestHash    string     `gorm:"not null"`
	Status         BatchState `gorm:"not null"`
	ResponseJSON   []byte     `gorm:"type:jsonb;column:response_json"`
	CreatedAt      time.Time  `gorm:"autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime"`
}

func (BatchRecord) TableName() string {
	return "sync_batches"
}

// OperationRecord is the replay receipt for one client operation id.
type OperationRecord struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	DeviceID      string         `gorm:"not null;column:device_id"`
	OperationID   string         `gorm:"not null;column:operation_id"`
	OperationType OperationType  `gorm:"not null;column:operation_type"`
	PayloadHash   string         `gorm:"not null;column:payload_hash"`
	Status        OperationState `gorm:"not null"`
	Entity        *Entity        `gorm:"column:entity"`
	ServerID      *string        `gorm:"column:server_id"`
	ResponseJSON  []byte         `gorm:"type:jsonb;column:response_json"`
	CreatedAt     time.Time      `gorm:"autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime"`
}

func (OperationRecord) TableName() string {
	return "sync_operations"
}
