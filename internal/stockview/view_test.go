package stockview

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/apiclient"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	"thread-erp-go/internal/realtime"
	"thread-erp-go/pkg/logger"
)

type fakeAPI struct {
	mu           sync.Mutex
	summaryCalls []*int64
	coneCalls    []apiclient.ConeQuery
}

func (f *fakeAPI) StockSummary(_ context.Context, warehouseID *int64) ([]inventorydomain.StockSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls = append(f.summaryCalls, warehouseID)
	return []inventorydomain.StockSummary{{ThreadTypeID: 3, WarehouseID: 5, AvailableCones: 12, AvailableMeters: decimal.NewFromInt(36000)}}, nil
}

func (f *fakeAPI) ListCones(_ context.Context, query apiclient.ConeQuery) ([]inventorydomain.Cone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coneCalls = append(f.coneCalls, query)
	return []inventorydomain.Cone{{ID: 1, ConeID: "C-1", ThreadTypeID: *query.ThreadTypeID}}, nil
}

func (f *fakeAPI) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaryCalls), len(f.coneCalls)
}

type captureSubscriber struct {
	mu       sync.Mutex
	callback realtime.Callback
	opts     realtime.Options
	removed  []string
}

func (s *captureSubscriber) Subscribe(_ context.Context, opts realtime.Options, callback realtime.Callback) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	s.callback = callback
	return "cones", nil
}

func (s *captureSubscriber) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, name)
}

func (s *captureSubscriber) emit(change realtime.Change) {
	s.mu.Lock()
	callback := s.callback
	s.mu.Unlock()
	callback(change)
}

func TestLoadScopesToWarehouse(t *testing.T) {
	api := &fakeAPI{}
	view := New(api, 10*time.Millisecond, logger.NewNop())

	warehouse := int64(5)
	require.NoError(t, view.Load(context.Background(), &warehouse))

	require.Len(t, api.summaryCalls, 1)
	assert.Equal(t, int64(5), *api.summaryCalls[0])
	assert.Len(t, view.Summary(), 1)
	assert.Equal(t, int64(5), *view.WarehouseID())
	assert.NotNil(t, view.RefreshedAt())

	threadType := int64(3)
	require.NoError(t, view.SelectThreadType(context.Background(), &threadType))
	require.Len(t, api.coneCalls, 1)
	assert.Equal(t, int64(5), *api.coneCalls[0].WarehouseID)
	assert.Len(t, view.Cones(), 1)

	require.NoError(t, view.SelectThreadType(context.Background(), nil))
	assert.Empty(t, view.Cones())
}

func TestRealtimeRefreshFollowsWarehouseAndDetail(t *testing.T) {
	api := &fakeAPI{}
	view := New(api, 20*time.Millisecond, logger.NewNop())
	warehouse := int64(5)
	require.NoError(t, view.Load(context.Background(), &warehouse))
	threadType := int64(3)
	require.NoError(t, view.SelectThreadType(context.Background(), &threadType))

	subscriber := &captureSubscriber{}
	require.NoError(t, view.EnableRealtime(context.Background(), subscriber))
	assert.Equal(t, "thread_cones", subscriber.opts.Table)
	assert.Empty(t, subscriber.opts.Filter)

	subscriber.emit(realtime.Update{
		Old: realtime.Row{"id": float64(8), "warehouse_id": float64(2), "thread_type_id": float64(3)},
		New: realtime.Row{"id": float64(8), "warehouse_id": float64(9), "thread_type_id": float64(3)},
	})
	time.Sleep(60 * time.Millisecond)
	summaries, cones := api.counts()
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, cones)

	subscriber.emit(realtime.Update{
		Old: realtime.Row{"id": float64(8), "warehouse_id": float64(5), "thread_type_id": float64(3)},
		New: realtime.Row{"id": float64(8), "warehouse_id": float64(9), "thread_type_id": float64(3)},
	})
	require.Eventually(t, func() bool {
		summaries, cones := api.counts()
		return summaries == 2 && cones == 2
	}, time.Second, 5*time.Millisecond)

	subscriber.emit(realtime.Insert{New: realtime.Row{"id": float64(9), "warehouse_id": float64(5), "thread_type_id": float64(4)}})
	require.Eventually(t, func() bool {
		summaries, _ := api.counts()
		return summaries == 3
	}, time.Second, 5*time.Millisecond)
	_, cones = api.counts()
	assert.Equal(t, 2, cones)

	view.DisableRealtime()
	assert.Equal(t, []string{"cones"}, subscriber.removed)
}
