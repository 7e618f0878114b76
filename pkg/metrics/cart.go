package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records outcomes of cart mutations issued by reconciliation controllers.
type CartMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	sessions prometheus.Gauge
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_mutation_duration_seconds",
		Help:    "Round-trip duration of cart mutations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_success",
		Help: "Cart mutations confirmed by the remote service.",
	}, []string{"operation"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_failure",
		Help: "Cart mutations that failed and were reverted locally.",
	}, []string{"operation"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_rejected",
		Help: "Cart intents rejected locally before any network call.",
	}, []string{"operation"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cart_sessions_open",
		Help: "Cart sessions currently open.",
	})
	reg.MustRegister(duration, success, failure, rejected, sessions)
	return &CartMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
		rejected: rejected,
		sessions: sessions,
	}
}

// ObserveDuration records the round-trip duration for the named operation.
func (c *CartMetrics) ObserveDuration(operation string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named operation.
func (c *CartMetrics) IncSuccess(operation string) {
	if c == nil || c.success == nil {
		return
	}
	c.success.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncFailure increments the failure counter for the named operation.
func (c *CartMetrics) IncFailure(operation string) {
	if c == nil || c.failure == nil {
		return
	}
	c.failure.WithLabelValues(normalizeLabel(operation)).Inc()
}

// IncRejected increments the local-rejection counter for the named operation.
func (c *CartMetrics) IncRejected(operation string) {
	if c == nil || c.rejected == nil {
		return
	}
	c.rejected.WithLabelValues(normalizeLabel(operation)).Inc()
}

// SessionOpened bumps the open sessions gauge.
func (c *CartMetrics) SessionOpened() {
	if c == nil || c.sessions == nil {
		return
	}
	c.sessions.Inc()
}

// SessionClosed lowers the open sessions gauge.
func (c *CartMetrics) SessionClosed() {
	if c == nil || c.sessions == nil {
		return
	}
	c.sessions.Dec()
}

func normalizeLabel(operation string) string {
	if operation == "" {
		return "unknown"
	}
	return operation
}
