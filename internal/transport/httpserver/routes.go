package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"thread-erp-go/internal/config"
	"thread-erp-go/internal/transport/httpserver/handler"
	appmw "thread-erp-go/internal/transport/httpserver/middleware"
	"thread-erp-go/pkg/logger"
)

type RouterDeps struct {
	Handlers *handler.Handlers
	// Realtime serves the websocket change feed; nil disables the route.
	Realtime http.Handler
	// Metrics serves /metrics; nil disables the route.
	Metrics  http.Handler
	Observer appmw.HTTPObserver
}

func NewRouter(cfg config.Config, deps RouterDeps, log logger.Logger) http.Handler {
	handlers := deps.Handlers

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if deps.Observer != nil {
		r.Use(appmw.NewMetrics(deps.Observer))
	}
	r.Use(appmw.NewCORS(cfg.AllowedOrigins))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		auth := appmw.NewTokenAuth(cfg.Auth, log)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			// Websocket upgrades must not sit behind the request timeout.
			if deps.Realtime != nil {
				r.Method(http.MethodGet, "/realtime", deps.Realtime)
			}

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(30 * time.Second))

				if cfg.OfflineSyncEnabled {
					r.Post("/sync", handlers.SyncBatch)
				}

				r.Get("/inventory/thread-types", handlers.ListThreadTypes)
				r.Get("/inventory/thread-types/{id}", handlers.GetThreadType)
				r.Get("/inventory/cones", handlers.ListCones)
				r.Get("/inventory/summary", handlers.StockSummary)
				r.Post("/inventory/receive", handlers.ReceiveStock)
				r.Post("/inventory/issue", handlers.IssueCones)
				r.Post("/recovery", handlers.RecoverCone)

				r.Get("/allocations", handlers.ListAllocations)
				r.Post("/allocations", handlers.CreateAllocation)
				r.Post("/allocations/run", handlers.RunAllocation)

				r.Get("/allocations/conflicts", handlers.ListConflicts)
				r.Post("/allocations/conflicts/detect", handlers.DetectConflicts)
				r.Get("/allocations/conflicts/{id}", handlers.GetConflict)
				r.Post("/allocations/conflicts/{id}/escalate", handlers.EscalateConflict)

				r.Get("/allocations/{id}", handlers.GetAllocation)
				r.Post("/allocations/{id}/issue", handlers.IssueAllocation)
				r.Post("/allocations/{id}/cancel", handlers.CancelAllocation)
				r.Post("/allocations/{id}/split", handlers.SplitAllocation)
				r.Post("/allocations/{id}/priority", handlers.UpdateAllocationPriority)
			})
		})
	})

	return r
}
