package agentapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"thread-erp-go/internal/conflicts"
	allocationdomain "thread-erp-go/internal/domain/allocation"
)

type conflictBoardResponse struct {
	Items         []allocationdomain.Conflict `json:"items"`
	Pending       int                         `json:"pending"`
	Escalated     int                         `json:"escalated"`
	Resolved      int                         `json:"resolved"`
	TotalShortage decimal.Decimal             `json:"total_shortage"`
	FetchedAt     *time.Time                  `json:"fetched_at,omitempty"`
	LastError     string                      `json:"last_error,omitempty"`
}

func (h *Handlers) boardSnapshot() conflictBoardResponse {
	list := h.Conflicts.Conflicts()
	if list == nil {
		list = []allocationdomain.Conflict{}
	}
	return conflictBoardResponse{
		Items:         list,
		Pending:       len(h.Conflicts.Pending()),
		Escalated:     len(h.Conflicts.Escalated()),
		Resolved:      len(h.Conflicts.Resolved()),
		TotalShortage: h.Conflicts.TotalShortage(),
		FetchedAt:     h.Conflicts.FetchedAt(),
		LastError:     h.Conflicts.LastError(),
	}
}

// ListConflicts fetches with the given filters, or answers from the board
// when the query is empty and a fetch already happened.
func (h *Handlers) ListConflicts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var filter conflicts.Filter
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := allocationdomain.ConflictStatus(strings.ToUpper(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_status", "invalid conflict status")
			return
		}
		filter.Status = &status
	}
	threadTypeID, err := parseOptionalIDParam(query.Get("thread_type_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_thread_type_id", "invalid thread_type_id")
		return
	}
	filter.ThreadTypeID = threadTypeID

	if filter.Status != nil || filter.ThreadTypeID != nil || h.Conflicts.FetchedAt() == nil {
		startedAt := time.Now()
		if err := h.Conflicts.Fetch(r.Context(), filter); err != nil {
			h.writeDomainError(w, "agentapi.list_conflicts", err, "duration_ms", time.Since(startedAt).Milliseconds())
			return
		}
	}
	writeJSON(w, http.StatusOK, h.boardSnapshot())
}

func (h *Handlers) RefreshConflicts(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	if err := h.Conflicts.Refresh(r.Context()); err != nil {
		h.writeDomainError(w, "agentapi.refresh_conflicts", err, "duration_ms", time.Since(startedAt).Milliseconds())
		return
	}
	writeJSON(w, http.StatusOK, h.boardSnapshot())
}

func (h *Handlers) GetConflict(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conflict id")
		return
	}
	conflict, ok := h.Conflicts.Get(id)
	if !ok {
		h.writeDomainError(w, "agentapi.get_conflict", conflicts.ErrConflictNotFound, "conflict_id", id)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

// SelectConflict opens the detail of one conflict so feed updates to it
// refresh the board as well.
func (h *Handlers) SelectConflict(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conflict id")
		return
	}
	conflict, ok := h.Conflicts.Get(id)
	if !ok {
		h.writeDomainError(w, "agentapi.select_conflict", conflicts.ErrConflictNotFound, "conflict_id", id)
		return
	}
	h.Conflicts.Select(&id)
	writeJSON(w, http.StatusOK, conflict)
}

func (h *Handlers) ClearConflictSelection(w http.ResponseWriter, r *http.Request) {
	h.Conflicts.Select(nil)
	w.WriteHeader(http.StatusNoContent)
}

type resolveConflictRequest struct {
	ResolutionType conflicts.ResolutionType  `json:"resolution_type"`
	AllocationID   int64                     `json:"allocation_id"`
	NewPriority    allocationdomain.Priority `json:"new_priority"`
	SplitQuantity  decimal.Decimal           `json:"split_quantity"`
	Notes          string                    `json:"notes"`
}

func (h *Handlers) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	id, err := parseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid conflict id")
		return
	}

	var req resolveConflictRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	err = h.Conflicts.Resolve(r.Context(), conflicts.ResolveRequest{
		ConflictID:     id,
		ResolutionType: req.ResolutionType,
		AllocationID:   req.AllocationID,
		NewPriority:    req.NewPriority,
		SplitQuantity:  req.SplitQuantity,
		Notes:          req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, "agentapi.resolve_conflict", err,
			"conflict_id", id,
			"resolution", req.ResolutionType,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}
	writeJSON(w, http.StatusOK, h.boardSnapshot())
}
