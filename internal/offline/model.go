// Package offline keeps shop-floor operations in a durable local queue and
// replays them against the warehouse API once the server is reachable.
package offline

import (
	"encoding/json"
	"time"
)

const MaxRetries = 3

type OperationType string

const (
	OperationTypeStockReceipt OperationType = "stock_receipt"
	OperationTypeIssue        OperationType = "issue"
	OperationTypeRecovery     OperationType = "recovery"
	OperationTypeAllocation   OperationType = "allocation"
)

var endpoints = map[OperationType]string{
	OperationTypeStockReceipt: "/api/inventory/receive",
	OperationTypeIssue:        "/api/inventory/issue",
	OperationTypeRecovery:     "/api/recovery",
	OperationTypeAllocation:   "/api/allocations",
}

func (t OperationType) Valid() bool {
	_, ok := endpoints[t]
	return ok
}

// Endpoint is the server path an operation of this type is posted to.
func (t OperationType) Endpoint() string {
	return endpoints[t]
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusFailed   Status = "failed"
	StatusConflict Status = "conflict"
)

var allStatuses = []Status{StatusPending, StatusSyncing, StatusSynced, StatusFailed, StatusConflict}

type QueuedOperation struct {
	ID         string          `json:"id"`
	Type       OperationType   `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

func (op QueuedOperation) clone() QueuedOperation {
	copied := op
	if op.Payload != nil {
		copied.Payload = append(json.RawMessage(nil), op.Payload...)
	}
	if op.SyncedAt != nil {
		syncedAt := *op.SyncedAt
		copied.SyncedAt = &syncedAt
	}
	return copied
}

type SyncResult struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
	Total     int `json:"total"`
}

type Resolution string

const (
	ResolutionRetry   Resolution = "retry"
	ResolutionDiscard Resolution = "discard"
	ResolutionManual  Resolution = "manual"
)

func (r Resolution) Valid() bool {
	return r == ResolutionRetry || r == ResolutionDiscard || r == ResolutionManual
}

type Stats struct {
	Total      int        `json:"total"`
	Pending    int        `json:"pending"`
	Syncing    int        `json:"syncing"`
	Synced     int        `json:"synced"`
	Failed     int        `json:"failed"`
	Conflicts  int        `json:"conflicts"`
	Online     bool       `json:"online"`
	InProgress bool       `json:"in_progress"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}
