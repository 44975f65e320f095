package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	syncdomain "thread-erp-go/internal/domain/sync"
	"thread-erp-go/internal/transport/httpserver/middleware"
)

type runAllocationRequest struct {
	ThreadTypeID int64 `json:"thread_type_id"`
}

type cancelAllocationRequest struct {
	Reason string `json:"reason"`
}

type splitAllocationRequest struct {
	SplitMeters decimal.Decimal `json:"split_meters"`
	Reason      string          `json:"reason"`
}

type updatePriorityRequest struct {
	Priority allocationdomain.Priority `json:"priority"`
}

type escalateConflictRequest struct {
	Notes string `json:"notes"`
}

type detectConflictsRequest struct {
	ThreadTypeID int64 `json:"thread_type_id"`
}

type detectConflictsResponse struct {
	ThreadTypeID int64                      `json:"thread_type_id"`
	Conflict     *allocationdomain.Conflict `json:"conflict"`
}

func (h *Handlers) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req allocationdomain.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	if key != "" {
		h.applyIdempotent(w, r, "allocations.create", syncdomain.OperationInput{
			OperationID: key,
			Type:        syncdomain.OperationTypeAllocation,
			Allocation:  &req,
		})
		return
	}

	startedAt := time.Now()
	created, err := h.Allocations.Create(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "allocations.create", err,
			"order_id", req.OrderID,
			"thread_type_id", req.ThreadTypeID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ListAllocations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

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

	filter := allocationdomain.Filter{
		ThreadTypeID: threadTypeID,
		OrderID:      strings.TrimSpace(query.Get("order_id")),
		Limit:        limit,
	}
	if value := parseOptionalString(query.Get("status")); value != nil {
		status := allocationdomain.Status(strings.ToUpper(*value))
		filter.Status = &status
	}
	if value := parseOptionalString(query.Get("priority")); value != nil {
		priority := allocationdomain.Priority(strings.ToUpper(*value))
		filter.Priority = &priority
	}

	allocations, err := h.Allocations.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "allocations.list", err)
		return
	}

	writeJSON(w, http.StatusOK, items(allocations))
}

func (h *Handlers) GetAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := allocationID(w, r)
	if !ok {
		return
	}

	allocation, err := h.Allocations.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "allocations.get", err, "allocation_id", id)
		return
	}

	writeJSON(w, http.StatusOK, allocation)
}

func (h *Handlers) RunAllocation(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()

	var req runAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if req.ThreadTypeID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "thread_type_id is required")
		return
	}

	result, err := h.Allocations.RunAllocation(r.Context(), req.ThreadTypeID)
	if err != nil {
		h.writeDomainError(w, "allocations.run", err,
			"thread_type_id", req.ThreadTypeID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}

	h.log.Info("allocations.run: completed",
		"thread_type_id", req.ThreadTypeID,
		"allocated", len(result.Allocated),
		"waiting", len(result.Waiting),
		"conflict", result.Conflict != nil,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) IssueAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := allocationID(w, r)
	if !ok {
		return
	}

	allocation, err := h.Allocations.Issue(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "allocations.issue", err, "allocation_id", id)
		return
	}

	writeJSON(w, http.StatusOK, allocation)
}

func (h *Handlers) CancelAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := allocationID(w, r)
	if !ok {
		return
	}

	var req cancelAllocationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	allocation, err := h.Allocations.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, "allocations.cancel", err, "allocation_id", id)
		return
	}

	writeJSON(w, http.StatusOK, allocation)
}

func (h *Handlers) SplitAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := allocationID(w, r)
	if !ok {
		return
	}

	var req splitAllocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	result, err := h.Allocations.Split(r.Context(), allocationdomain.SplitInput{
		AllocationID: id,
		SplitMeters:  req.SplitMeters,
		Reason:       req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, "allocations.split", err,
			"allocation_id", id,
			"split_meters", req.SplitMeters.String(),
		)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) UpdateAllocationPriority(w http.ResponseWriter, r *http.Request) {
	id, ok := allocationID(w, r)
	if !ok {
		return
	}

	var req updatePriorityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	priority := allocationdomain.Priority(strings.ToUpper(strings.TrimSpace(string(req.Priority))))
	allocation, err := h.Allocations.UpdatePriority(r.Context(), id, priority)
	if err != nil {
		h.writeDomainError(w, "allocations.priority", err, "allocation_id", id, "priority", priority)
		return
	}

	writeJSON(w, http.StatusOK, allocation)
}

func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	threadTypeID, err := parseOptionalIDParam(query.Get("thread_type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid thread_type_id")
		return
	}

	filter := allocationdomain.ConflictFilter{ThreadTypeID: threadTypeID}
	if value := parseOptionalString(query.Get("status")); value != nil {
		status := allocationdomain.ConflictStatus(strings.ToUpper(*value))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid status")
			return
		}
		filter.Status = &status
	}

	conflicts, err := h.Allocations.ListConflicts(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "conflicts.list", err)
		return
	}

	writeJSON(w, http.StatusOK, items(conflicts))
}

func (h *Handlers) GetConflict(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return
	}

	conflict, err := h.Allocations.GetConflict(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "conflicts.get", err, "conflict_id", id)
		return
	}

	writeJSON(w, http.StatusOK, conflict)
}

func (h *Handlers) EscalateConflict(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return
	}

	var req escalateConflictRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	conflict, err := h.Allocations.Escalate(r.Context(), id, req.Notes, operator)
	if err != nil {
		h.writeDomainError(w, "conflicts.escalate", err, "conflict_id", id, "operator", operator)
		return
	}

	h.log.Info("conflicts.escalate: escalated", "conflict_id", id, "operator", operator)
	writeJSON(w, http.StatusOK, conflict)
}

func (h *Handlers) DetectConflicts(w http.ResponseWriter, r *http.Request) {
	var req detectConflictsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
		return
	}
	if req.ThreadTypeID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "thread_type_id is required")
		return
	}

	conflict, err := h.Allocations.DetectConflicts(r.Context(), req.ThreadTypeID)
	if err != nil {
		h.writeDomainError(w, "conflicts.detect", err, "thread_type_id", req.ThreadTypeID)
		return
	}

	writeJSON(w, http.StatusOK, detectConflictsResponse{ThreadTypeID: req.ThreadTypeID, Conflict: conflict})
}

func allocationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return 0, false
	}
	return id, true
}
