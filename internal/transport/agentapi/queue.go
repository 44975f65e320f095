package agentapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"thread-erp-go/internal/offline"
)

func (h *Handlers) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := offline.Status(strings.TrimSpace(r.URL.Query().Get("status")))

	operations := h.Queue.Operations()
	if status != "" {
		filtered := operations[:0]
		for _, op := range operations {
			if op.Status == status {
				filtered = append(filtered, op)
			}
		}
		operations = filtered
	}
	writeJSON(w, http.StatusOK, items(operations))
}

func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

func (h *Handlers) GetQueuedOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	op, ok := h.Queue.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "operation_not_found", "queued operation not found")
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (h *Handlers) SyncQueue(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	result, err := h.Queue.Sync(r.Context())
	if err != nil {
		h.writeDomainError(w, "agentapi.sync", err, "duration_ms", time.Since(startedAt).Milliseconds())
		return
	}
	h.log.Info("agentapi.sync: pass finished",
		"total", result.Total,
		"success", result.Success,
		"failed", result.Failed,
		"conflicts", result.Conflicts,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, result)
}

type resolveOperationRequest struct {
	Resolution offline.Resolution `json:"resolution"`
}

func (h *Handlers) ResolveQueuedConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveOperationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	if err := h.Queue.ResolveConflict(r.Context(), id, req.Resolution); err != nil {
		h.writeDomainError(w, "agentapi.resolve_operation", err, "operation_id", id, "resolution", req.Resolution)
		return
	}
	h.writeOperation(w, id)
}

func (h *Handlers) RetryQueuedOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Queue.RetryFailed(r.Context(), id); err != nil {
		h.writeDomainError(w, "agentapi.retry_operation", err, "operation_id", id)
		return
	}
	h.writeOperation(w, id)
}

func (h *Handlers) DequeueOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Queue.Dequeue(r.Context(), id); err != nil {
		h.writeDomainError(w, "agentapi.dequeue", err, "operation_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearSynced(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.ClearSynced(r.Context()); err != nil {
		h.writeDomainError(w, "agentapi.clear_synced", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Queue.Stats())
}

func (h *Handlers) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.ClearAll(r.Context()); err != nil {
		h.writeDomainError(w, "agentapi.clear_all", err)
		return
	}
	h.log.Warn("agentapi.clear_all: queue cleared")
	w.WriteHeader(http.StatusNoContent)
}

// writeOperation answers with the operation's current state. A discarded
// conflict is gone from the queue, so the answer is empty.
func (h *Handlers) writeOperation(w http.ResponseWriter, id string) {
	op, ok := h.Queue.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
