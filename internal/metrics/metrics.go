// Package metrics holds the Prometheus collectors of both binaries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Server holds the warehouse API collectors.
type Server struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	replayTotal      *prometheus.CounterVec
	realtimeEvents   *prometheus.CounterVec
	realtimeClients  prometheus.Gauge
}

func NewServer(reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)
	return &Server{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_server_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thread_server_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thread_server_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		replayTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_server_replayed_operations_total",
				Help: "Queued client operations received, by type and outcome",
			},
			[]string{"type", "result"},
		),
		realtimeEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_server_realtime_events_total",
				Help: "Row change events published to the realtime hub",
			},
			[]string{"table", "event"},
		),
		realtimeClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thread_server_realtime_clients",
				Help: "Connected realtime websocket clients",
			},
		),
	}
}

func (m *Server) ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Server) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

func (m *Server) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

func (m *Server) ObserveReplay(operationType, result string) {
	m.replayTotal.WithLabelValues(operationType, result).Inc()
}

func (m *Server) ObserveRealtimeEvent(table, event string) {
	m.realtimeEvents.WithLabelValues(table, event).Inc()
}

func (m *Server) SetRealtimeClients(n int) {
	m.realtimeClients.Set(float64(n))
}

// Agent holds the shop-floor client collectors.
type Agent struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   prometheus.Gauge
	queueDepth         *prometheus.GaugeVec
	syncPasses         prometheus.Counter
	syncOperations     *prometheus.CounterVec
	syncDuration       prometheus.Histogram
	online             prometheus.Gauge
	realtimeReconnects *prometheus.CounterVec
}

func NewAgent(reg prometheus.Registerer) *Agent {
	factory := promauto.With(reg)
	return &Agent{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_agent_http_requests_total",
				Help: "Total number of local control API requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thread_agent_http_request_duration_seconds",
				Help:    "Local control API request duration in seconds",
				Buckets: durationBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thread_agent_http_requests_in_flight",
				Help: "Number of local control API requests currently being processed",
			},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "thread_agent_queue_operations",
				Help: "Queued operations by status",
			},
			[]string{"status"},
		),
		syncPasses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "thread_agent_sync_passes_total",
				Help: "Completed sync passes",
			},
		),
		syncOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_agent_sync_operations_total",
				Help: "Operations processed by sync passes, by outcome",
			},
			[]string{"outcome"},
		),
		syncDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thread_agent_sync_duration_seconds",
				Help:    "Sync pass duration in seconds",
				Buckets: durationBuckets,
			},
		),
		online: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "thread_agent_online",
				Help: "Server reachability (1 = online, 0 = offline)",
			},
		),
		realtimeReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thread_agent_realtime_reconnects_total",
				Help: "Realtime reconnect attempts by table",
			},
			[]string{"table"},
		),
	}
}

func (m *Agent) ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Agent) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

func (m *Agent) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

func (m *Agent) ObserveSyncPass(success, failed, conflicts int, duration time.Duration) {
	m.syncPasses.Inc()
	m.syncOperations.WithLabelValues("success").Add(float64(success))
	m.syncOperations.WithLabelValues("failed").Add(float64(failed))
	m.syncOperations.WithLabelValues("conflict").Add(float64(conflicts))
	m.syncDuration.Observe(duration.Seconds())
}

func (m *Agent) SetQueueDepth(status string, n int) {
	m.queueDepth.WithLabelValues(status).Set(float64(n))
}

func (m *Agent) SetOnline(online bool) {
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

func (m *Agent) ObserveReconnect(table string) {
	m.realtimeReconnects.WithLabelValues(table).Inc()
}
