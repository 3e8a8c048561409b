package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/attendance-dashboard/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	backendFailures  *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	loadCycles       *prometheus.CounterVec
	identityLookups  *prometheus.CounterVec
	activeDashboards prometheus.Gauge

	requestCount         uint64
	requestDurationTotal uint64
	backendCount         uint64
	backendFailureCount  uint64
	backendDurationTotal uint64
	identityHits         uint64
	identityMisses       uint64
	dashboards           int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of gateway HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of gateway HTTP requests",
	}, []string{"method", "path", "status"})

	backendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_request_duration_seconds",
		Help:    "Duration of calls to the attendance backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	backendFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_request_failures_total",
		Help: "Backend calls that failed in transport or returned a non-2xx status",
	}, []string{"method", "endpoint"})

	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_activation_mutations_total",
		Help: "Optimistic session activation mutations by outcome",
	}, []string{"kind", "phase"})

	loadCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dashboard_load_cycles_total",
		Help: "Role scoped load cycles by outcome",
	}, []string{"role", "result"})

	identityLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "identity_lookups_total",
		Help: "Identity store lookups by result",
	}, []string{"result"})

	activeDashboards := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "active_dashboards",
		Help: "Dashboards currently held in memory",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, backendDuration, backendFailures, mutations, loadCycles, identityLookups, activeDashboards, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		backendDuration:  backendDuration,
		backendFailures:  backendFailures,
		mutations:        mutations,
		loadCycles:       loadCycles,
		identityLookups:  identityLookups,
		activeDashboards: activeDashboards,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records gateway request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveBackendCall records one call to the attendance backend. Status 0 means no response arrived.
func (m *MetricsService) ObserveBackendCall(method, endpoint string, status int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	labelStatus := "none"
	if status > 0 {
		labelStatus = fmt.Sprintf("%d", status)
	}
	m.backendDuration.WithLabelValues(method, endpoint, labelStatus).Observe(duration.Seconds())
	atomic.AddUint64(&m.backendCount, 1)
	atomic.AddUint64(&m.backendDurationTotal, uint64(duration.Nanoseconds()))
	if err != nil {
		m.backendFailures.WithLabelValues(method, endpoint).Inc()
		atomic.AddUint64(&m.backendFailureCount, 1)
	}
}

// ObserveMutation counts settled and started activation mutations.
func (m *MetricsService) ObserveMutation(kind models.MutationKind, phase models.MutationPhase) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(string(kind), string(phase)).Inc()
}

// ObserveLoad counts a finished load cycle.
func (m *MetricsService) ObserveLoad(role models.UserRole, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.loadCycles.WithLabelValues(string(role), result).Inc()
}

// RecordIdentityLookup records identity store hits and misses.
func (m *MetricsService) RecordIdentityLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.identityLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.identityHits, 1)
		return
	}
	m.identityLookups.WithLabelValues("miss").Inc()
	atomic.AddUint64(&m.identityMisses, 1)
}

// SetActiveDashboards publishes the number of live dashboards.
func (m *MetricsService) SetActiveDashboards(n int) {
	if m == nil {
		return
	}
	m.activeDashboards.Set(float64(n))
	atomic.StoreInt64(&m.dashboards, int64(n))
}

// Snapshot returns aggregated metrics suitable for the system endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	backend := atomic.LoadUint64(&m.backendCount)
	backendDuration := atomic.LoadUint64(&m.backendDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgBackendMs float64
	if backend > 0 {
		avgBackendMs = float64(backendDuration) / float64(backend) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		BackendCalls:             backend,
		BackendFailures:          atomic.LoadUint64(&m.backendFailureCount),
		AverageBackendDurationMs: avgBackendMs,
		IdentityCacheHits:        atomic.LoadUint64(&m.identityHits),
		IdentityCacheMisses:      atomic.LoadUint64(&m.identityMisses),
		ActiveDashboards:         int(atomic.LoadInt64(&m.dashboards)),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
