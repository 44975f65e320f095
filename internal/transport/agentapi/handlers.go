// Package agentapi is the local control surface of the shop-floor agent:
// operators and kiosk screens drive the offline queue, the conflict board and
// the stock view through it.
package agentapi

import (
	"context"
	"net/http"

	"thread-erp-go/internal/conflicts"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	"thread-erp-go/internal/offline"
	"thread-erp-go/internal/stockview"
	"thread-erp-go/pkg/logger"
)

// Warehouse is the direct path to the server for operations that may be queued.
type Warehouse interface {
	ReceiveStock(ctx context.Context, operationID string, input inventorydomain.ReceiveInput) (*inventorydomain.ReceiveResult, error)
	IssueCones(ctx context.Context, operationID string, input inventorydomain.IssueInput) (*inventorydomain.IssueResult, error)
	RecoverCone(ctx context.Context, operationID string, input inventorydomain.RecoveryInput) (*inventorydomain.RecoveryResult, error)
	CreateAllocation(ctx context.Context, operationID string, input allocationdomain.CreateInput) (*allocationdomain.Allocation, error)
}

type Handlers struct {
	Queue     *offline.Queue
	Warehouse Warehouse
	Conflicts *conflicts.Board
	Stock     *stockview.View
	log       logger.Logger
}

func New(queue *offline.Queue, warehouse Warehouse, board *conflicts.Board, stock *stockview.View, log logger.Logger) *Handlers {
	return &Handlers{
		Queue:     queue,
		Warehouse: warehouse,
		Conflicts: board,
		Stock:     stock,
		log:       log,
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Online  bool   `json:"online"`
	Pending int    `json:"pending"`
	Syncing bool   `json:"syncing"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Online:  h.Queue.Online(),
		Pending: h.Queue.PendingCount(),
		Syncing: h.Queue.Syncing(),
	})
}
