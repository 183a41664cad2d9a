package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and school events.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	reportsGenerated *prometheus.CounterVec
	enrollments      prometheus.Counter
	allocRetries     *prometheus.CounterVec
	tokensRevoked    prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	reportsGenerated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reports_generated_total",
		Help: "Bulletins generated per grading period",
	}, []string{"period"})

	enrollments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_total",
		Help: "Students enrolled",
	})

	allocRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roll_number_retries_total",
		Help: "Number allocation transactions restarted after a unique violation",
	}, []string{"kind"})

	tokensRevoked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Access tokens added to the denylist",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, reportsGenerated, enrollments, allocRetries, tokensRevoked, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		reportsGenerated: reportsGenerated,
		enrollments:      enrollments,
		allocRetries:     allocRetries,
		tokensRevoked:    tokensRevoked,
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

// Registry returns the private registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ReportGenerated counts a persisted bulletin.
func (m *MetricsService) ReportGenerated(period string) {
	if m == nil {
		return
	}
	m.reportsGenerated.WithLabelValues(period).Inc()
}

// StudentEnrolled counts a committed enrollment.
func (m *MetricsService) StudentEnrolled() {
	if m == nil {
		return
	}
	m.enrollments.Inc()
}

// AllocationRetried counts a restarted roll or staff number transaction.
func (m *MetricsService) AllocationRetried(kind string) {
	if m == nil {
		return
	}
	m.allocRetries.WithLabelValues(kind).Inc()
}

// TokenRevoked counts an access token placed on the denylist.
func (m *MetricsService) TokenRevoked() {
	if m == nil {
		return
	}
	m.tokensRevoked.Inc()
}
