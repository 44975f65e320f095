package agentapi

import (
	"context"
	"net/http"
	"time"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	"thread-erp-go/internal/offline"
)

type operationResponse struct {
	Queued    bool                     `json:"queued"`
	Operation *offline.QueuedOperation `json:"operation,omitempty"`
	Data      any                      `json:"data,omitempty"`
}

func (h *Handlers) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var input inventorydomain.ReceiveInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	submit(h, w, r, offline.OperationTypeStockReceipt, input,
		func(ctx context.Context, operationID string) (*inventorydomain.ReceiveResult, error) {
			return h.Warehouse.ReceiveStock(ctx, operationID, input)
		})
}

func (h *Handlers) IssueCones(w http.ResponseWriter, r *http.Request) {
	var input inventorydomain.IssueInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	submit(h, w, r, offline.OperationTypeIssue, input,
		func(ctx context.Context, operationID string) (*inventorydomain.IssueResult, error) {
			return h.Warehouse.IssueCones(ctx, operationID, input)
		})
}

func (h *Handlers) RecoverCone(w http.ResponseWriter, r *http.Request) {
	var input inventorydomain.RecoveryInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	submit(h, w, r, offline.OperationTypeRecovery, input,
		func(ctx context.Context, operationID string) (*inventorydomain.RecoveryResult, error) {
			return h.Warehouse.RecoverCone(ctx, operationID, input)
		})
}

func (h *Handlers) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var input allocationdomain.CreateInput
	if err := decodeJSON(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	submit(h, w, r, offline.OperationTypeAllocation, input,
		func(ctx context.Context, operationID string) (*allocationdomain.Allocation, error) {
			return h.Warehouse.CreateAllocation(ctx, operationID, input)
		})
}

// submit answers 201 when the server applied the operation and 202 when it
// was queued for a later sync.
func submit[T any](h *Handlers, w http.ResponseWriter, r *http.Request, operationType offline.OperationType, payload any, direct func(context.Context, string) (T, error)) {
	startedAt := time.Now()
	result := offline.Execute(r.Context(), h.Queue, offline.Request[T]{
		Type:    operationType,
		Payload: payload,
		Direct:  direct,
	})
	if result.Err != nil {
		h.writeDomainError(w, "agentapi.submit", result.Err,
			"type", operationType,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	if result.Queued {
		h.log.Info("agentapi.submit: queued",
			"type", operationType,
			"operation_id", result.Operation.ID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		writeJSON(w, http.StatusAccepted, operationResponse{Queued: true, Operation: result.Operation})
		return
	}
	h.log.Info("agentapi.submit: applied",
		"type", operationType,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	writeJSON(w, http.StatusCreated, operationResponse{Data: result.Data})
}
