package agentapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	appmw "thread-erp-go/internal/transport/httpserver/middleware"
)

type RouterDeps struct {
	Handlers *Handlers
	// Metrics serves /metrics; nil disables the route.
	Metrics  http.Handler
	Observer appmw.HTTPObserver
	// AllowedOrigins feeds CORS for kiosk screens served from another origin.
	AllowedOrigins []string
}

func NewRouter(deps RouterDeps) http.Handler {
	handlers := deps.Handlers

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if deps.Observer != nil {
		r.Use(appmw.NewMetrics(deps.Observer))
	}
	r.Use(appmw.NewCORS(deps.AllowedOrigins))

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/queue", handlers.ListQueue)
			r.Get("/queue/stats", handlers.QueueStats)
			r.Post("/queue/sync", handlers.SyncQueue)
			r.Post("/queue/clear-synced", handlers.ClearSynced)
			r.Delete("/queue", handlers.ClearQueue)
			r.Get("/queue/{id}", handlers.GetQueuedOperation)
			r.Delete("/queue/{id}", handlers.DequeueOperation)
			r.Post("/queue/{id}/resolve", handlers.ResolveQueuedConflict)
			r.Post("/queue/{id}/retry", handlers.RetryQueuedOperation)

			r.Post("/operations/receive", handlers.ReceiveStock)
			r.Post("/operations/issue", handlers.IssueCones)
			r.Post("/operations/recovery", handlers.RecoverCone)
			r.Post("/operations/allocations", handlers.CreateAllocation)

			r.Get("/conflicts", handlers.ListConflicts)
			r.Post("/conflicts/refresh", handlers.RefreshConflicts)
			r.Delete("/conflicts/selection", handlers.ClearConflictSelection)
			r.Get("/conflicts/{id}", handlers.GetConflict)
			r.Post("/conflicts/{id}/select", handlers.SelectConflict)
			r.Post("/conflicts/{id}/resolve", handlers.ResolveConflict)

			r.Get("/stock", handlers.StockSummary)
			r.Post("/stock/refresh", handlers.RefreshStock)
			r.Get("/stock/cones", handlers.StockCones)
			r.Delete("/stock/cones", handlers.CloseStockCones)
		})
	})

	return r
}
