// Package metrics exposes Prometheus instrumentation for the delivery engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// MessagesClaimed counts messages claimed by delivery cycles
	MessagesClaimed prometheus.Counter
	// MessagesDelivered counts dispatch outcomes by result
	MessagesDelivered *prometheus.CounterVec
	// CycleDuration tracks delivery cycle duration
	CycleDuration prometheus.Histogram
	// CyclesSkipped counts cycles skipped because the previous one still ran
	CyclesSkipped prometheus.Counter
	// TokenRefreshes counts refresh grant attempts by result
	TokenRefreshes *prometheus.CounterVec
	// HTTPRequestsTotal total HTTP requests by endpoint, method, status
	HTTPRequestsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics under the given
// namespace.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		MessagesClaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_claimed_total",
				Help:      "Total number of due messages claimed for dispatch",
			},
		),
		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_delivered_total",
				Help:      "Total number of dispatched messages by result",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_cycle_duration_seconds",
				Help:      "Duration of delivery cycles in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		CyclesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delivery_cycles_skipped_total",
				Help:      "Total number of delivery cycles skipped due to overlap",
			},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of refresh token grants by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
	}

	registry.MustRegister(
		m.MessagesClaimed,
		m.MessagesDelivered,
		m.CycleDuration,
		m.CyclesSkipped,
		m.TokenRefreshes,
		m.HTTPRequestsTotal,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordClaimed records messages claimed by a delivery cycle.
func (m *Metrics) RecordClaimed(count int) {
	m.MessagesClaimed.Add(float64(count))
}

// RecordDelivery records a dispatch outcome ("sent" or "failed").
func (m *Metrics) RecordDelivery(result string) {
	m.MessagesDelivered.WithLabelValues(result).Inc()
}

// RecordCycleDuration records a completed delivery cycle.
func (m *Metrics) RecordCycleDuration(durationSeconds float64) {
	m.CycleDuration.Observe(durationSeconds)
}

// RecordCycleSkipped records a cycle skipped because the previous one was
// still running.
func (m *Metrics) RecordCycleSkipped() {
	m.CyclesSkipped.Inc()
}

// RecordTokenRefresh records a refresh grant attempt ("success" or "failure").
func (m *Metrics) RecordTokenRefresh(result string) {
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}
