// Package metrics holds the Prometheus collectors of the stock service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock"

// Metrics owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Ledger metrics
	MovementsRecorded *prometheus.CounterVec
	MovementsRejected *prometheus.CounterVec

	// Closing metrics
	ClosingsTotal   *prometheus.CounterVec
	ClosingDuration prometheus.Histogram
	SnapshotsLocked prometheus.Counter

	// Kafka metrics
	OrderEventsConsumed *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	m.MovementsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movements_recorded_total",
			Help:      "Movements appended to the ledger",
		},
		[]string{"direction", "reason"},
	)
	m.MovementsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movements_rejected_total",
			Help:      "Movements refused by validation or policy",
		},
		[]string{"cause"},
	)

	m.ClosingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closings_total",
			Help:      "Day close attempts by outcome",
		},
		[]string{"outcome"},
	)
	m.ClosingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "closing_duration_seconds",
			Help:      "Duration of the closing transaction",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
	m.SnapshotsLocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_locked_total",
			Help:      "Snapshots written by successful closings",
		},
	)

	m.OrderEventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_events_consumed_total",
			Help:      "Order events read from Kafka by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration, m.HTTPRequestsInFlight,
		m.MovementsRecorded, m.MovementsRejected,
		m.ClosingsTotal, m.ClosingDuration, m.SnapshotsLocked,
		m.OrderEventsConsumed,
	)
	return m
}

// Handler returns the HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordMovement(direction, reason string) {
	m.MovementsRecorded.WithLabelValues(direction, reason).Inc()
}

func (m *Metrics) RecordRejection(cause string) {
	m.MovementsRejected.WithLabelValues(cause).Inc()
}

// RecordClosing counts one close attempt. snapshots is 0 unless it succeeded.
func (m *Metrics) RecordClosing(outcome string, snapshots int, duration time.Duration) {
	m.ClosingsTotal.WithLabelValues(outcome).Inc()
	m.ClosingDuration.Observe(duration.Seconds())
	if snapshots > 0 {
		m.SnapshotsLocked.Add(float64(snapshots))
	}
}

func (m *Metrics) RecordOrderEvent(status string) {
	m.OrderEventsConsumed.WithLabelValues(status).Inc()
}
