package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the document store. Service
// operations and HTTP requests are labeled separately so backend latency
// and boundary latency can be compared.
type Metrics struct {
	// OperationsTotal counts service operations by resource, operation, and
	// outcome ("ok", "not_found", "duplicate", "invalid", "error").
	OperationsTotal *prometheus.CounterVec

	// OperationDuration observes service operation duration in seconds.
	OperationDuration *prometheus.HistogramVec

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes HTTP request duration in seconds.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// A nil registerer falls back to the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "operations_total",
			Help:      "Total service operations by resource, operation, and outcome.",
		}, []string{"resource", "operation", "status"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Service operation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"resource", "operation"}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docstore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docstore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
