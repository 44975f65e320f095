package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
)

func (h *Handlers) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req inventorydomain.ReceiveInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	if key != "" {
		h.applyIdempotent(w, r, "inventory.receive", syncdomain.OperationInput{
			OperationID:  key,
			Type:         syncdomain.OperationTypeStockReceipt,
			StockReceipt: &req,
		})
		return
	}

	startedAt := time.Now()
	result, err := h.Inventory.Receive(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "inventory.receive", err,
			"thread_type_id", req.ThreadTypeID,
			"warehouse_id", req.WarehouseID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) IssueCones(w http.ResponseWriter, r *http.Request) {
	var req inventorydomain.IssueInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	if key != "" {
		h.applyIdempotent(w, r, "inventory.issue", syncdomain.OperationInput{
			OperationID: key,
			Type:        syncdomain.OperationTypeIssue,
			Issue:       &req,
		})
		return
	}

	startedAt := time.Now()
	result, err := h.Inventory.Issue(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "inventory.issue", err,
			"cones", len(req.ConeIDs),
			"department", req.Department,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) RecoverCone(w http.ResponseWriter, r *http.Request) {
	var req inventorydomain.RecoveryInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	if key != "" {
		h.applyIdempotent(w, r, "inventory.recover", syncdomain.OperationInput{
			OperationID: key,
			Type:        syncdomain.OperationTypeRecovery,
			Recovery:    &req,
		})
		return
	}

	startedAt := time.Now()
	result, err := h.Inventory.Recover(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "inventory.recover", err,
			"cone_id", req.ConeID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListCones(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	warehouseID, err := parseOptionalIDParam(query.Get("warehouse_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid warehouse_id")
		return
	}
	threadTypeID, err := parseOptionalIDParam(query.Get("thread_type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid thread_type_id")
		return
	}
	limit, err := parseIntParam(query.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	filter := inventorydomain.ConeFilter{
		WarehouseID:  warehouseID,
		ThreadTypeID: threadTypeID,
		Limit:        limit,
	}
	if status := parseOptionalString(query.Get("status")); status != nil {
		coneStatus := inventorydomain.ConeStatus(*status)
		filter.Status = &coneStatus
	}

	cones, err := h.Inventory.ListCones(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "inventory.cones", err)
		return
	}

	writeJSON(w, http.StatusOK, items(cones))
}

func (h *Handlers) StockSummary(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := parseOptionalIDParam(r.URL.Query().Get("warehouse_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid warehouse_id")
		return
	}

	summary, err := h.Inventory.Summary(r.Context(), warehouseID)
	if err != nil {
		h.writeDomainError(w, "inventory.summary", err)
		return
	}

	writeJSON(w, http.StatusOK, items(summary))
}

func (h *Handlers) ListThreadTypes(w http.ResponseWriter, r *http.Request) {
	threadTypes, err := h.Inventory.ListThreadTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, "inventory.thread_types", err)
		return
	}

	writeJSON(w, http.StatusOK, items(threadTypes))
}

func (h *Handlers) GetThreadType(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return
	}

	threadType, err := h.Inventory.ThreadType(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "inventory.thread_type", err, "thread_type_id", id)
		return
	}

	writeJSON(w, http.StatusOK, threadType)
}
