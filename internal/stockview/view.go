// Package stockview keeps a warehouse stock summary and the cones of one
// selected thread type current from the change feed.
package stockview

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/changefeed"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	"thread-erp-go/internal/realtime"
	"thread-erp-go/pkg/logger"
)

const detailConeLimit = 500

type API interface {
	StockSummary(ctx context.Context, warehouseID *int64) ([]inventorydomain.StockSummary, error)
	ListCones(ctx context.Context, query apiclient.ConeQuery) ([]inventorydomain.Cone, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, opts realtime.Options, callback realtime.Callback) (string, error)
	Unsubscribe(name string)
}

type View struct {
	api      API
	log      logger.Logger
	debounce time.Duration

	mu          sync.RWMutex
	warehouseID *int64
	summary     []inventorydomain.StockSummary
	threadType  *int64
	cones       []inventorydomain.Cone
	refreshedAt *time.Time

	realtimeMu  sync.Mutex
	subscriber  Subscriber
	channel     string
	coordinator *realtime.Coordinator
}

func New(api API, debounce time.Duration, log logger.Logger) *View {
	return &View{api: api, log: log, debounce: debounce}
}

// Load scopes the view to a warehouse (nil for all) and fetches the summary.
func (v *View) Load(ctx context.Context, warehouseID *int64) error {
	v.mu.Lock()
	v.warehouseID = copyID(warehouseID)
	v.mu.Unlock()

	v.realtimeMu.Lock()
	if v.coordinator != nil {
		v.coordinator.SetFilters(filtersFor(warehouseID))
	}
	v.realtimeMu.Unlock()

	return v.Refresh(ctx)
}

func (v *View) Refresh(ctx context.Context) error {
	v.mu.RLock()
	warehouseID := copyID(v.warehouseID)
	v.mu.RUnlock()

	summary, err := v.api.StockSummary(ctx, warehouseID)
	if err != nil {
		v.log.BusinessError("stockview.refresh: summary failed", err)
		return fmt.Errorf("load stock summary: %w", err)
	}

	refreshedAt := time.Now().UTC()
	v.mu.Lock()
	v.summary = summary
	v.refreshedAt = &refreshedAt
	v.mu.Unlock()
	return nil
}

// SelectThreadType opens the cone list of one thread type, or closes it with nil.
func (v *View) SelectThreadType(ctx context.Context, threadTypeID *int64) error {
	v.mu.Lock()
	v.threadType = copyID(threadTypeID)
	if threadTypeID == nil {
		v.cones = nil
	}
	v.mu.Unlock()

	v.realtimeMu.Lock()
	if v.coordinator != nil {
		v.coordinator.SelectDetail(threadTypeID)
	}
	v.realtimeMu.Unlock()

	if threadTypeID == nil {
		return nil
	}
	return v.refreshCones(ctx, *threadTypeID)
}

func (v *View) refreshCones(ctx context.Context, threadTypeID int64) error {
	v.mu.RLock()
	warehouseID := copyID(v.warehouseID)
	v.mu.RUnlock()

	cones, err := v.api.ListCones(ctx, apiclient.ConeQuery{
		WarehouseID:  warehouseID,
		ThreadTypeID: &threadTypeID,
		Limit:        detailConeLimit,
	})
	if err != nil {
		v.log.BusinessError("stockview.refresh: cones failed", err, "thread_type_id", threadTypeID)
		return fmt.Errorf("load cones: %w", err)
	}

	v.mu.Lock()
	if v.threadType != nil && *v.threadType == threadTypeID {
		v.cones = cones
	}
	v.mu.Unlock()
	return nil
}

func (v *View) Summary() []inventorydomain.StockSummary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]inventorydomain.StockSummary(nil), v.summary...)
}

func (v *View) Cones() []inventorydomain.Cone {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]inventorydomain.Cone(nil), v.cones...)
}

func (v *View) WarehouseID() *int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyID(v.warehouseID)
}

func (v *View) RefreshedAt() *time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.refreshedAt == nil {
		return nil
	}
	value := *v.refreshedAt
	return &value
}

// EnableRealtime listens to every thread_cones change. Warehouse scoping is
// applied locally so cones moving between warehouses refresh both sides.
func (v *View) EnableRealtime(ctx context.Context, subscriber Subscriber) error {
	v.DisableRealtime()

	coordinator := realtime.NewCoordinator(realtime.CoordinatorConfig{
		Name:         inventorydomain.TableCones,
		Debounce:     v.debounce,
		Refresh:      v.Refresh,
		Detail:       v.refreshCones,
		DetailColumn: "thread_type_id",
	}, v.log)

	v.mu.RLock()
	coordinator.SetFilters(filtersFor(v.warehouseID))
	coordinator.SelectDetail(v.threadType)
	v.mu.RUnlock()

	name, err := subscriber.Subscribe(ctx, realtime.Options{
		Table: inventorydomain.TableCones,
		Event: changefeed.EventAll,
	}, coordinator.Handle)
	if err != nil {
		coordinator.Stop()
		return fmt.Errorf("subscribe cone changes: %w", err)
	}

	v.realtimeMu.Lock()
	v.subscriber = subscriber
	v.channel = name
	v.coordinator = coordinator
	v.realtimeMu.Unlock()
	return nil
}

func (v *View) DisableRealtime() {
	v.realtimeMu.Lock()
	subscriber, channel, coordinator := v.subscriber, v.channel, v.coordinator
	v.subscriber, v.channel, v.coordinator = nil, "", nil
	v.realtimeMu.Unlock()

	if subscriber != nil && channel != "" {
		subscriber.Unsubscribe(channel)
	}
	if coordinator != nil {
		coordinator.Stop()
	}
}

func filtersFor(warehouseID *int64) realtime.Filters {
	if warehouseID == nil {
		return nil
	}
	return realtime.Filters{"warehouse_id": strconv.FormatInt(*warehouseID, 10)}
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	value := *id
	return &value
}
