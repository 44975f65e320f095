package agentapi

import (
	"net/http"
	"time"

	inventorydomain "thread-erp-go/internal/domain/inventory"
)

type stockResponse struct {
	WarehouseID *int64                         `json:"warehouse_id,omitempty"`
	Summary     []inventorydomain.StockSummary `json:"summary"`
	RefreshedAt *time.Time                     `json:"refreshed_at,omitempty"`
}

func (h *Handlers) stockSnapshot() stockResponse {
	summary := h.Stock.Summary()
	if summary == nil {
		summary = []inventorydomain.StockSummary{}
	}
	return stockResponse{
		WarehouseID: h.Stock.WarehouseID(),
		Summary:     summary,
		RefreshedAt: h.Stock.RefreshedAt(),
	}
}

// StockSummary answers from the view; a warehouse_id query rescopes it first.
func (h *Handlers) StockSummary(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("warehouse_id")
	warehouseID, err := parseOptionalIDParam(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_warehouse_id", "invalid warehouse_id")
		return
	}

	if warehouseID != nil || h.Stock.RefreshedAt() == nil {
		startedAt := time.Now()
		if err := h.Stock.Load(r.Context(), warehouseID); err != nil {
			h.writeDomainError(w, "agentapi.stock_summary", err, "duration_ms", time.Since(startedAt).Milliseconds())
			return
		}
	}
	writeJSON(w, http.StatusOK, h.stockSnapshot())
}

func (h *Handlers) RefreshStock(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now()
	if err := h.Stock.Refresh(r.Context()); err != nil {
		h.writeDomainError(w, "agentapi.refresh_stock", err, "duration_ms", time.Since(startedAt).Milliseconds())
		return
	}
	writeJSON(w, http.StatusOK, h.stockSnapshot())
}

// StockCones opens the cone list of one thread type; the view keeps it fresh
// from the feed while it stays selected.
func (h *Handlers) StockCones(w http.ResponseWriter, r *http.Request) {
	threadTypeID, err := parseOptionalIDParam(r.URL.Query().Get("thread_type_id"))
	if err != nil || threadTypeID == nil {
		writeError(w, http.StatusBadRequest, "invalid_thread_type_id", "thread_type_id is required")
		return
	}

	startedAt := time.Now()
	if err := h.Stock.SelectThreadType(r.Context(), threadTypeID); err != nil {
		h.writeDomainError(w, "agentapi.stock_cones", err,
			"thread_type_id", *threadTypeID,
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
		return
	}
	writeJSON(w, http.StatusOK, items(h.Stock.Cones()))
}

func (h *Handlers) CloseStockCones(w http.ResponseWriter, r *http.Request) {
	if err := h.Stock.SelectThreadType(r.Context(), nil); err != nil {
		h.writeDomainError(w, "agentapi.close_stock_cones", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
