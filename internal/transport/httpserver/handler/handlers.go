package handler

import (
	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
	"thread-erp-go/pkg/logger"
)

// ReplayObserver counts queued operations replayed through the idempotency log.
type ReplayObserver interface {
	ObserveReplay(operationType, result string)
}

type noopReplayObserver struct{}

func (noopReplayObserver) ObserveReplay(string, string) {}

type Handlers struct {
	Inventory   *inventorydomain.Service
	Allocations *allocationdomain.Service
	Sync        *syncdomain.Service
	replay      ReplayObserver
	log         logger.Logger
}

func New(inventory *inventorydomain.Service, allocations *allocationdomain.Service, sync *syncdomain.Service, replay ReplayObserver, log logger.Logger) *Handlers {
	if replay == nil {
		replay = noopReplayObserver{}
	}
	return &Handlers{
		Inventory:   inventory,
		Allocations: allocations,
		Sync:        sync,
		replay:      replay,
		log:         log,
	}
}
