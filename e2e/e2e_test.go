//go:build e2e
// +build e2e

package e2e_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/config"
	"thread-erp-go/internal/conflicts"
	"thread-erp-go/internal/db"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
	"thread-erp-go/internal/offline"
	"thread-erp-go/internal/reachability"
	"thread-erp-go/internal/repository/inmemory"
	allocationrepo "thread-erp-go/internal/repository/postgres/allocation"
	inventoryrepo "thread-erp-go/internal/repository/postgres/inventory"
	syncrepo "thread-erp-go/internal/repository/postgres/sync"
	"thread-erp-go/internal/transport/httpserver"
	"thread-erp-go/internal/transport/httpserver/handler"
	"thread-erp-go/pkg/logger"
)

const apiToken = "e2e-token"

type testEnv struct {
	server     *httptest.Server
	db         *gorm.DB
	client     *apiclient.Client
	threadType inventorydomain.ThreadType
}

func setupE2E(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("E2E_DB_DSN")
	if dsn == "" {
		t.Skip("E2E_DB_DSN not set; skipping e2e tests")
	}

	log := logger.NewNop()
	cfg := config.Config{
		OfflineSyncEnabled: true,
		DB:                 config.DBConfig{DSN: dsn},
		Auth:               config.AuthConfig{APIToken: apiToken, Operator: "e2e"},
	}

	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	if err := db.Migrate(dbConn, log); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := cleanDB(dbConn); err != nil {
		t.Fatalf("clean db: %v", err)
	}

	threadType := inventorydomain.ThreadType{
		Code:                 "T-40-BLK",
		Name:                 "Tex 40 black",
		MetersPerGram:        decimal.NewFromInt(40),
		DefaultMetersPerCone: decimal.NewFromInt(100),
		TareWeightGrams:      decimal.NewFromInt(10),
	}
	if err := dbConn.Create(&threadType).Error; err != nil {
		t.Fatalf("seed thread type: %v", err)
	}

	inventoryService := inventorydomain.NewService(inventoryrepo.NewPostgres(dbConn))
	allocationService := allocationdomain.NewService(allocationrepo.NewPostgres(dbConn))
	syncService := syncdomain.NewService(syncrepo.NewPostgres(dbConn), inventoryService, allocationService)
	handlers := handler.New(inventoryService, allocationService, syncService, nil, log)

	server := httptest.NewServer(httpserver.NewRouter(cfg, httpserver.RouterDeps{Handlers: handlers}, log))
	client := apiclient.New(apiclient.Config{
		BaseURL:  server.URL,
		Token:    apiToken,
		DeviceID: "e2e-line-1",
		Operator: "e2e",
	}, log)

	env := &testEnv{server: server, db: dbConn, client: client, threadType: threadType}
	t.Cleanup(env.Close)
	return env
}

func (e *testEnv) Close() {
	e.server.Close()
	sqlDB, err := e.db.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
}

func cleanDB(dbConn *gorm.DB) error {
	return dbConn.WithContext(context.Background()).Exec(
		"TRUNCATE TABLE sync_operations, sync_batches, allocation_conflict_members, allocation_conflicts, " +
			"thread_allocation_cones, thread_allocations, thread_recoveries, thread_cones, thread_types RESTART IDENTITY CASCADE",
	).Error
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestE2EOfflineReceiptSyncsOnReconnect(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()
	log := logger.NewNop()

	monitor, err := reachability.New(env.client, reachability.Options{Schedule: "@every 1h"}, log)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	queue := offline.NewQueue(inmemory.NewQueueStore(), env.client, monitor, log)
	if err := queue.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer queue.Close()

	input := inventorydomain.ReceiveInput{ThreadTypeID: env.threadType.ID, WarehouseID: 1, QuantityCones: 2}
	result := offline.Execute(ctx, queue, offline.Request[*inventorydomain.ReceiveResult]{
		Type:    offline.OperationTypeStockReceipt,
		Payload: input,
		Direct: func(ctx context.Context, operationID string) (*inventorydomain.ReceiveResult, error) {
			return env.client.ReceiveStock(ctx, operationID, input)
		},
	})
	if result.Err != nil || !result.Queued {
		t.Fatalf("expected queued result while offline, got %+v", result)
	}
	operationID := result.Operation.ID

	if !monitor.Check(ctx) {
		t.Fatalf("expected server to be reachable")
	}
	waitFor(t, "queue to drain", func() bool { return !queue.HasPending() && !queue.Syncing() })

	if len(queue.Operations()) != 0 {
		t.Fatalf("expected synced operation removed, got %+v", queue.Operations())
	}

	// A replay of the same operation id must not receive stock twice.
	payload, err := json.Marshal(input)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := env.client.Send(ctx, offline.OperationTypeStockReceipt.Endpoint(), operationID, payload); err != nil {
		t.Fatalf("replay: %v", err)
	}
	cones, err := env.client.ListCones(ctx, apiclient.ConeQuery{ThreadTypeID: &env.threadType.ID})
	if err != nil {
		t.Fatalf("list cones: %v", err)
	}
	if len(cones) != 2 {
		t.Fatalf("expected 2 cones after replay, got %d", len(cones))
	}
}

func TestE2EConflictBoardSplit(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()

	if _, err := env.client.ReceiveStock(ctx, "1700000000000-seed", inventorydomain.ReceiveInput{
		ThreadTypeID:  env.threadType.ID,
		WarehouseID:   1,
		QuantityCones: 1,
	}); err != nil {
		t.Fatalf("receive: %v", err)
	}

	first, err := env.client.CreateAllocation(ctx, "1700000000001-alloc", allocationdomain.CreateInput{
		OrderID:         "PO-1",
		ThreadTypeID:    env.threadType.ID,
		RequestedMeters: decimal.NewFromInt(80),
		Priority:        allocationdomain.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create first allocation: %v", err)
	}
	if _, err := env.client.CreateAllocation(ctx, "1700000000002-alloc", allocationdomain.CreateInput{
		OrderID:         "PO-2",
		ThreadTypeID:    env.threadType.ID,
		RequestedMeters: decimal.NewFromInt(70),
	}); err != nil {
		t.Fatalf("create second allocation: %v", err)
	}

	board := conflicts.NewBoard(env.client, logger.NewNop())
	pending := allocationdomain.ConflictStatusPending
	if err := board.Fetch(ctx, conflicts.Filter{Status: &pending}); err != nil {
		t.Fatalf("fetch conflicts: %v", err)
	}
	if len(board.Pending()) != 1 {
		t.Fatalf("expected 1 pending conflict, got %d", len(board.Pending()))
	}
	conflict := board.Pending()[0]
	if !conflict.Shortage.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected shortage 50, got %s", conflict.Shortage)
	}

	err = board.Resolve(ctx, conflicts.ResolveRequest{
		ConflictID:     conflict.ID,
		ResolutionType: conflicts.ResolutionSplit,
		AllocationID:   first.ID,
		SplitQuantity:  decimal.NewFromInt(80),
	})
	if err == nil {
		t.Fatalf("expected split of the whole request to be rejected")
	}

	err = board.Resolve(ctx, conflicts.ResolveRequest{
		ConflictID:     conflict.ID,
		ResolutionType: conflicts.ResolutionSplit,
		AllocationID:   first.ID,
		SplitQuantity:  decimal.NewFromInt(40),
		Notes:          "deliver in two batches",
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if board.FetchedAt() == nil {
		t.Fatalf("expected board to refetch after resolving")
	}
}
