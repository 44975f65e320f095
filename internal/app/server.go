package app

import (
	"context"
	"net/http"

	"gorm.io/gorm"

	"thread-erp-go/internal/changefeed"
	"thread-erp-go/internal/config"
	"thread-erp-go/internal/db"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	inventorydomain "thread-erp-go/internal/domain/inventory"
	syncdomain "thread-erp-go/internal/domain/sync"
	"thread-erp-go/internal/metrics"
	"thread-erp-go/internal/repository/inmemory"
	allocationrepo "thread-erp-go/internal/repository/postgres/allocation"
	inventoryrepo "thread-erp-go/internal/repository/postgres/inventory"
	syncrepo "thread-erp-go/internal/repository/postgres/sync"
	"thread-erp-go/internal/transport/httpserver"
	"thread-erp-go/internal/transport/httpserver/handler"
	"thread-erp-go/pkg/logger"
)

// Server is the warehouse API process.
type Server struct {
	cfg        config.Config
	log        logger.Logger
	httpServer *http.Server
	hub        *changefeed.Hub
	db         *gorm.DB
}

func NewServer(log logger.Logger) (*Server, error) {
	log.Info("app: loading config")
	cfg, err := config.Load(log)
	if err != nil {
		return nil, err
	}

	log.Info("app: initializing database")
	dbConn, err := db.NewPostgres(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := db.Migrate(dbConn, log); err != nil {
			closeDB(dbConn)
			return nil, err
		}
	}

	registry := metrics.NewRegistry()
	serverMetrics := metrics.NewServer(registry)

	var (
		hub       *changefeed.Hub
		publisher = changefeed.Nop()
	)
	if cfg.Realtime.Enabled {
		hub = changefeed.NewHub(changefeed.HubConfig{
			WriteTimeout: cfg.Realtime.WriteTimeout,
			PingInterval: cfg.Realtime.PingInterval,
			SendBuffer:   cfg.Realtime.SendBuffer,
		}, log.With("component", "changefeed"), serverMetrics)
		publisher = hub
	}

	log.Info("app: initializing services")
	inventoryService := inventorydomain.NewServiceWithOptions(inventoryrepo.NewPostgres(dbConn), inventorydomain.Options{
		Cache:    inmemory.NewThreadTypeCache(),
		CacheTTL: cfg.Allocation.ThreadTypeCacheTTL,
		Events:   publisher,
	})
	allocationService := allocationdomain.NewServiceWithOptions(allocationrepo.NewPostgres(dbConn), allocationdomain.Options{
		Events:            publisher,
		DisableAutoDetect: !cfg.Allocation.AutoDetectConflicts,
	})
	syncService := syncdomain.NewService(syncrepo.NewPostgres(dbConn), inventoryService, allocationService)

	handlers := handler.New(inventoryService, allocationService, syncService, serverMetrics, log.With("component", "http"))

	deps := httpserver.RouterDeps{
		Handlers: handlers,
		Observer: serverMetrics,
	}
	if hub != nil {
		deps.Realtime = hub
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.Handler(registry)
	}

	log.Info("app: initializing http server")
	router := httpserver.NewRouter(cfg, deps, log)
	srv := httpserver.New(":"+cfg.HTTPPort, router)

	return &Server{
		cfg:        cfg,
		log:        log,
		httpServer: srv,
		hub:        hub,
		db:         dbConn,
	}, nil
}

func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Start runs background workers until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}
}

func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(conn *gorm.DB) {
	if sqlDB, err := conn.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
