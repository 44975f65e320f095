package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/config"
	"thread-erp-go/internal/conflicts"
	"thread-erp-go/internal/db"
	"thread-erp-go/internal/metrics"
	"thread-erp-go/internal/offline"
	"thread-erp-go/internal/reachability"
	"thread-erp-go/internal/realtime"
	"thread-erp-go/internal/repository/inmemory"
	queuerepo "thread-erp-go/internal/repository/sqlite/queue"
	"thread-erp-go/internal/stockview"
	"thread-erp-go/internal/transport/agentapi"
	"thread-erp-go/internal/transport/httpserver"
	"thread-erp-go/pkg/logger"
)

type AgentOptions struct {
	ConfigPath string
	// Store overrides queue.store when set.
	Store string
}

// Agent is the shop-floor process: it queues operations while the server is
// unreachable and keeps the conflict board and stock view fresh.
type Agent struct {
	cfg        config.AgentConfig
	log        logger.Logger
	httpServer *http.Server

	monitor  *reachability.Monitor
	queue    *offline.Queue
	board    *conflicts.Board
	stock    *stockview.View
	realtime *realtime.Client
	poller   *realtime.Poller
	pollID   realtime.Handle
	sqlite   *sql.DB
}

func NewAgent(opts AgentOptions, log logger.Logger) (*Agent, error) {
	log.Info("app: loading agent config", "path", opts.ConfigPath)
	cfg, err := config.LoadAgent(opts.ConfigPath, log)
	if err != nil {
		return nil, err
	}
	if store := strings.TrimSpace(opts.Store); store != "" {
		cfg.Queue.Store = store
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("agent config validation failed: %w", err)
		}
	}

	registry := metrics.NewRegistry()
	agentMetrics := metrics.NewAgent(registry)

	client := apiclient.New(apiclient.Config{
		BaseURL:  cfg.ServerURL,
		Token:    cfg.APIToken,
		DeviceID: cfg.DeviceID,
		Operator: cfg.Operator,
		Timeout:  cfg.Sync.RequestTimeout,
	}, log.With("component", "apiclient"))

	monitor, err := reachability.New(client, reachability.Options{
		Schedule: cfg.Reachability.ProbeSchedule,
		Timeout:  cfg.Reachability.ProbeTimeout,
	}, log.With("component", "reachability"))
	if err != nil {
		return nil, err
	}
	agentMetrics.SetOnline(false)
	monitor.Subscribe(agentMetrics.SetOnline)

	log.Info("app: opening queue store", "store", cfg.Queue.Store, "path", cfg.Queue.Path)
	store, sqliteDB, err := openQueueStore(cfg.Queue)
	if err != nil {
		return nil, err
	}

	queue := offline.NewQueueWithOptions(store, client, monitor, log.With("component", "offline"), offline.Options{
		Observer: agentMetrics,
	})

	board := conflicts.NewBoardWithOptions(client, log.With("component", "conflicts"), conflicts.Options{
		Debounce: cfg.Realtime.Debounce,
		OnNotice: func(notice conflicts.Notice) {
			log.Warn("conflicts: new allocation conflict",
				"conflict_id", notice.ConflictID,
				"thread_type_id", notice.ThreadTypeID,
				"shortage", notice.Shortage,
			)
		},
	})
	stock := stockview.New(client, cfg.Realtime.Debounce, log.With("component", "stockview"))

	agent := &Agent{
		cfg:     cfg,
		log:     log,
		monitor: monitor,
		queue:   queue,
		board:   board,
		stock:   stock,
		sqlite:  sqliteDB,
	}

	if cfg.Realtime.Enabled {
		agent.realtime = realtime.NewClient(realtime.Config{
			URL:   cfg.RealtimeURL(),
			Token: cfg.APIToken,
			Backoff: realtime.Backoff{
				BaseDelay:   cfg.Realtime.BaseDelay,
				MaxDelay:    cfg.Realtime.MaxDelay,
				MaxAttempts: cfg.Realtime.MaxReconnectAttempts,
			},
			Observer: agentMetrics,
		}, log.With("component", "realtime"))
	} else {
		agent.poller = realtime.NewPoller(cfg.Conflicts.PollInterval, agent.poll, log.With("component", "poller"))
	}

	handlers := agentapi.New(queue, client, board, stock, log.With("component", "agentapi"))
	deps := agentapi.RouterDeps{
		Handlers:       handlers,
		Observer:       agentMetrics,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.Handler(registry)
	}
	agent.httpServer = httpserver.New(cfg.ListenAddr, agentapi.NewRouter(deps))

	return agent, nil
}

func openQueueStore(cfg config.QueueConfig) (offline.Store, *sql.DB, error) {
	if cfg.Store == "memory" {
		return inmemory.NewQueueStore(), nil, nil
	}

	sqliteDB, err := db.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	store, err := queuerepo.NewSQLite(context.Background(), sqliteDB)
	if err != nil {
		_ = sqliteDB.Close()
		return nil, nil, err
	}
	return store, sqliteDB, nil
}

func (a *Agent) HTTPServer() *http.Server {
	return a.httpServer
}

// Start loads the queue, begins probing the server and primes the views.
// A failing first fetch is logged; the views recover on the next refresh.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.queue.Initialize(ctx); err != nil {
		return err
	}
	a.monitor.Start()

	var warehouseID *int64
	if a.cfg.Realtime.WarehouseID > 0 {
		id := a.cfg.Realtime.WarehouseID
		warehouseID = &id
	}
	if err := a.board.Fetch(ctx, conflicts.Filter{}); err != nil {
		a.log.Warn("app: initial conflict fetch failed", "err", err)
	}
	if err := a.stock.Load(ctx, warehouseID); err != nil {
		a.log.Warn("app: initial stock load failed", "err", err)
	}

	if a.realtime != nil {
		if err := a.board.EnableRealtime(ctx, a.realtime); err != nil {
			return err
		}
		if err := a.stock.EnableRealtime(ctx, a.realtime); err != nil {
			return err
		}
		return nil
	}

	a.pollID = a.poller.StartPolling()
	a.log.Info("app: realtime disabled, polling", "interval", a.cfg.Conflicts.PollInterval.String())
	return nil
}

func (a *Agent) poll(ctx context.Context) {
	if err := a.board.Refresh(ctx); err != nil {
		a.log.Debug("app: conflict poll failed", "err", err)
	}
	if err := a.stock.Refresh(ctx); err != nil {
		a.log.Debug("app: stock poll failed", "err", err)
	}
}

func (a *Agent) Close() error {
	a.board.DisableRealtime()
	a.stock.DisableRealtime()
	if a.realtime != nil {
		a.realtime.Close()
	}
	if a.poller != nil {
		a.poller.StopPolling(a.pollID)
	}
	a.monitor.Stop()
	a.queue.Close()

	if a.sqlite == nil {
		return nil
	}
	return a.sqlite.Close()
}
