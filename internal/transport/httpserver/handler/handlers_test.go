package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
	"thread-erp-go/pkg/logger"
)

func TestReceiveStockReplaysIdempotencyKey(t *testing.T) {
	env := newTestEnv()
	body := `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":2}`

	first := env.do(http.MethodPost, "/api/inventory/receive", body, map[string]string{
		idempotencyKeyHeader: "1700000000000-abc123",
		deviceIDHeader:       "line-1",
	})
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := env.do(http.MethodPost, "/api/inventory/receive", body, map[string]string{
		idempotencyKeyHeader: "1700000000000-abc123",
		deviceIDHeader:       "line-1",
	})
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayedHeader) != "true" {
		t.Fatalf("expected replay header, got %q", second.Header().Get(replayedHeader))
	}
	if strings.TrimSpace(first.Body.String()) != strings.TrimSpace(second.Body.String()) {
		t.Fatalf("expected cached body, got %s and %s", first.Body.String(), second.Body.String())
	}
	if env.inventory.created != 2 {
		t.Fatalf("expected 2 cones created once, got %d", env.inventory.created)
	}
	if env.replay.results["stock_receipt/applied"] != 1 || env.replay.results["stock_receipt/duplicate"] != 1 {
		t.Fatalf("unexpected replay metrics: %v", env.replay.results)
	}
}

func TestReceiveStockSameKeyOtherDeviceExecutesAgain(t *testing.T) {
	env := newTestEnv()
	body := `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":1}`

	for _, device := range []string{"line-1", "line-2"} {
		rec := env.do(http.MethodPost, "/api/inventory/receive", body, map[string]string{
			idempotencyKeyHeader: "1700000000000-abc123",
			deviceIDHeader:       device,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 for %s, got %d", device, rec.Code)
		}
	}
	if env.inventory.created != 2 {
		t.Fatalf("expected one cone per device, got %d", env.inventory.created)
	}
}

func TestReceiveStockPayloadMismatch(t *testing.T) {
	env := newTestEnv()
	headers := map[string]string{idempotencyKeyHeader: "1700000000000-abc123"}

	env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":1}`, headers)
	rec := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":5}`, headers)

	assertError(t, rec, http.StatusConflict, "idempotency_key_payload_mismatch")
}

func TestReceiveStockRejectsShortIdempotencyKey(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":1}`, map[string]string{
		idempotencyKeyHeader: "abc",
	})

	assertError(t, rec, http.StatusBadRequest, "invalid_request")
	if env.inventory.created != 0 {
		t.Fatalf("expected nothing created, got %d", env.inventory.created)
	}
}

func TestReceiveStockFailureIsNotCached(t *testing.T) {
	env := newTestEnv()
	headers := map[string]string{idempotencyKeyHeader: "1700000000000-abc123"}

	first := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":9,"warehouse_id":2,"quantity_cones":1}`, headers)
	assertError(t, first, http.StatusNotFound, "thread_type_not_found")

	env.inventory.threadTypes[9] = inventorydomain.ThreadType{ID: 9, DefaultMetersPerCone: decimal.NewFromInt(1000)}
	second := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":9,"warehouse_id":2,"quantity_cones":1}`, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected retry to execute, got %d: %s", second.Code, second.Body.String())
	}
}

func TestReceiveStockValidation(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":1,"warehouse_id":2,"quantity_cones":0}`, nil)

	assertError(t, rec, http.StatusUnprocessableEntity, "validation_failed")
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/inventory/receive", `{"thread_type_id":1,"unknown":true}`, nil)

	assertError(t, rec, http.StatusBadRequest, "invalid_json")
}

func TestGetAllocationNotFound(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/api/allocations/42", "", nil)

	assertError(t, rec, http.StatusNotFound, "allocation_not_found")
}

func TestGetAllocationInvalidID(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/api/allocations/abc", "", nil)

	assertError(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestUpdatePriorityRejectsUnknownPriority(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/allocations/1/priority", `{"priority":"CRITICAL"}`, nil)

	assertError(t, rec, http.StatusUnprocessableEntity, "invalid_priority")
}

func TestListConflictsFiltersByStatus(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/api/allocations/conflicts?status=pending&thread_type_id=3", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	filter := env.allocations.lastConflictFilter
	if filter.Status == nil || *filter.Status != allocationdomain.ConflictStatusPending {
		t.Fatalf("expected PENDING status filter, got %v", filter.Status)
	}
	if filter.ThreadTypeID == nil || *filter.ThreadTypeID != 3 {
		t.Fatalf("expected thread type filter 3, got %v", filter.ThreadTypeID)
	}

	var payload struct {
		Items []allocationdomain.Conflict `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Items == nil {
		t.Fatalf("expected empty items array, got null")
	}
}

func TestListConflictsRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodGet, "/api/allocations/conflicts?status=open", "", nil)

	assertError(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestEscalateMissingConflict(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/allocations/conflicts/7/escalate", "", nil)

	assertError(t, rec, http.StatusNotFound, "conflict_not_found")
}

func TestSyncBatchReportsPerOperationResults(t *testing.T) {
	env := newTestEnv()
	body := `{"operations":[
		{"operation_id":"1700000000000-aaa111","type":"stock_receipt","payload":{"thread_type_id":1,"warehouse_id":2,"quantity_cones":1}},
		{"operation_id":"1700000000001-bbb222","type":"stock_receipt","payload":{"thread_type_id":5,"warehouse_id":2,"quantity_cones":1}}
	]}`

	rec := env.do(http.MethodPost, "/api/sync", body, map[string]string{deviceIDHeader: "line-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var response syncdomain.BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Summary.Applied != 1 || response.Summary.Failed != 1 {
		t.Fatalf("expected 1 applied and 1 failed, got %+v", response.Summary)
	}
	if response.Status != syncdomain.BatchStatusPartialSuccess {
		t.Fatalf("expected partial_success, got %s", response.Status)
	}
}

func TestSyncBatchRejectsInvalidOperationID(t *testing.T) {
	env := newTestEnv()
	body := `{"operations":[{"operation_id":"x","type":"issue","payload":{"cone_ids":["C-1"],"department":"sewing"}}]}`

	rec := env.do(http.MethodPost, "/api/sync", body, nil)

	assertError(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestSyncBatchRejectsEmptyOperations(t *testing.T) {
	env := newTestEnv()
	rec := env.do(http.MethodPost, "/api/sync", `{"operations":[]}`, nil)

	assertError(t, rec, http.StatusBadRequest, "invalid_request")
}

type testEnv struct {
	router      http.Handler
	inventory   *stubInventoryRepo
	allocations *stubAllocationRepo
	replay      *recordingReplayObserver
}

func newTestEnv() *testEnv {
	inventoryRepo := &stubInventoryRepo{
		threadTypes: map[int64]inventorydomain.ThreadType{
			1: {ID: 1, Code: "PP-40", MetersPerGram: decimal.NewFromInt(20), DefaultMetersPerCone: decimal.NewFromInt(3000)},
		},
	}
	allocationRepo := &stubAllocationRepo{}
	replay := &recordingReplayObserver{results: make(map[string]int)}

	inventory := inventorydomain.NewService(inventoryRepo)
	allocations := allocationdomain.NewService(allocationRepo)
	sync := syncdomain.NewService(newStubSyncRepo(), inventory, allocations)
	h := New(inventory, allocations, sync, replay, logger.NewNop())

	r := chi.NewRouter()
	r.Post("/api/inventory/receive", h.ReceiveStock)
	r.Post("/api/sync", h.SyncBatch)
	r.Get("/api/allocations/conflicts", h.ListConflicts)
	r.Post("/api/allocations/conflicts/{id}/escalate", h.EscalateConflict)
	r.Get("/api/allocations/{id}", h.GetAllocation)
	r.Post("/api/allocations/{id}/priority", h.UpdateAllocationPriority)

	return &testEnv{router: r, inventory: inventoryRepo, allocations: allocationRepo, replay: replay}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != code {
		t.Fatalf("expected code %s, got %s", code, envelope.Error.Code)
	}
}

type recordingReplayObserver struct {
	results map[string]int
}

func (o *recordingReplayObserver) ObserveReplay(operationType, result string) {
	o.results[operationType+"/"+result]++
}

// stubInventoryRepo implements the subset of the repository the handlers reach.
type stubInventoryRepo struct {
	inventorydomain.Repository

	threadTypes map[int64]inventorydomain.ThreadType
	created     int
}

func (r *stubInventoryRepo) GetThreadType(_ context.Context, id int64) (*inventorydomain.ThreadType, error) {
	threadType, ok := r.threadTypes[id]
	if !ok {
		return nil, inventorydomain.ErrThreadTypeNotFound
	}
	return &threadType, nil
}

func (r *stubInventoryRepo) CreateCones(_ context.Context, cones []inventorydomain.Cone) error {
	for i := range cones {
		r.created++
		cones[i].ID = int64(r.created)
	}
	return nil
}

type stubAllocationRepo struct {
	allocationdomain.Repository

	lastConflictFilter allocationdomain.ConflictFilter
}

func (r *stubAllocationRepo) Get(context.Context, int64) (*allocationdomain.Allocation, error) {
	return nil, allocationdomain.ErrAllocationNotFound
}

func (r *stubAllocationRepo) GetConflict(context.Context, int64) (*allocationdomain.Conflict, error) {
	return nil, allocationdomain.ErrConflictNotFound
}

func (r *stubAllocationRepo) Transaction(ctx context.Context, fn func(allocationdomain.Repository) error) error {
	return fn(r)
}

func (r *stubAllocationRepo) ListConflicts(_ context.Context, filter allocationdomain.ConflictFilter) ([]allocationdomain.Conflict, error) {
	r.lastConflictFilter = filter
	return nil, nil
}

type stubSyncRepo struct {
	operations map[string]syncdomain.OperationRecord
	keys       map[string]string
}

func newStubSyncRepo() *stubSyncRepo {
	return &stubSyncRepo{
		operations: make(map[string]syncdomain.OperationRecord),
		keys:       make(map[string]string),
	}
}

func (r *stubSyncRepo) BeginBatch(context.Context, *syncdomain.BatchRecord) (bool, *syncdomain.BatchRecord, error) {
	return true, nil, nil
}

func (r *stubSyncRepo) CompleteBatch(context.Context, string, syncdomain.BatchState, []byte) error {
	return nil
}

func (r *stubSyncRepo) ReserveOperation(_ context.Context, operation *syncdomain.OperationRecord) (bool, *syncdomain.OperationRecord, error) {
	key := operation.DeviceID + "|" + operation.OperationID
	if id, ok := r.keys[key]; ok {
		existing := r.operations[id]
		return false, &existing, nil
	}
	r.keys[key] = operation.ID
	r.operations[operation.ID] = *operation
	return true, nil, nil
}

func (r *stubSyncRepo) CompleteOperation(_ context.Context, operation *syncdomain.OperationRecord) error {
	r.operations[operation.ID] = *operation
	return nil
}

func (r *stubSyncRepo) ReleaseOperation(_ context.Context, id string) error {
	record, ok := r.operations[id]
	if !ok || record.Status != syncdomain.OperationStatePending {
		return nil
	}
	delete(r.operations, id)
	delete(r.keys, record.DeviceID+"|"+record.OperationID)
	return nil
}
