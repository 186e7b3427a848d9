// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes in-process Prometheus metrics for the routing
// pipeline. There is no HTTP exporter here: a caller that wants to
// serve /metrics wires promhttp.Handler against prometheus's default
// registry itself, since promauto registers there by default.
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	backendCallsTotal   *prometheus.CounterVec
	backendCallDuration *prometheus.HistogramVec
	backendTokensUsed   *prometheus.CounterVec
	backendCost         *prometheus.CounterVec

	breakerTransitions *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	ledgerQueueDepth prometheus.Gauge
	ledgerOverflow   prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers every router metric series under namespace
// and returns a Collector ready to record against them.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of completion requests, by outcome.",
		},
		[]string{"status"}, // ok, error, timeout
	)

	c.requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end request pipeline duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	c.backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Total number of backend adaptor calls, by backend and outcome.",
		},
		[]string{"backend", "status"},
	)

	c.backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend adaptor call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	c.backendTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_tokens_total",
			Help:      "Total tokens accounted per backend, by token type.",
		},
		[]string{"backend", "type"}, // type: prompt, completion
	)

	c.backendCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_cost_total",
			Help:      "Total estimated cost per backend, in the configured cost unit.",
		},
		[]string{"backend"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Total circuit breaker state transitions per backend.",
		},
		[]string{"backend", "from", "to"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current circuit breaker state per backend (0=closed, 1=half-open, 2=open).",
		},
		[]string{"backend"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		},
		[]string{"tier"}, // local, redis
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		},
		[]string{"tier"},
	)

	c.ledgerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_queue_depth",
			Help:      "Current depth of the usage ledger's write queue.",
		},
	)

	c.ledgerOverflow = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_overflow_total",
			Help:      "Total usage entries dropped because the ledger write queue was full.",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordRequest records one completed (or failed) pipeline request.
func (c *Collector) RecordRequest(status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(status).Inc()
	c.requestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordBackendCall records one adaptor call's outcome, latency, token
// accounting and estimated cost.
func (c *Collector) RecordBackendCall(backend, status string, duration time.Duration, promptTokens, completionTokens int, cost float64) {
	c.backendCallsTotal.WithLabelValues(backend, status).Inc()
	c.backendCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
	c.backendTokensUsed.WithLabelValues(backend, "prompt").Add(float64(promptTokens))
	c.backendTokensUsed.WithLabelValues(backend, "completion").Add(float64(completionTokens))
	c.backendCost.WithLabelValues(backend).Add(cost)
}

// breakerStateValue maps a breaker state name to the gauge convention
// documented on breakerState: closed < half-open < open.
func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerTransition records a circuit breaker moving from one
// state to another for backend, and updates the current-state gauge.
func (c *Collector) RecordBreakerTransition(backend, from, to string) {
	c.breakerTransitions.WithLabelValues(backend, from, to).Inc()
	c.breakerState.WithLabelValues(backend).Set(breakerStateValue(to))
}

// RecordCacheHit records a response cache hit on the given tier.
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss records a response cache miss on the given tier.
func (c *Collector) RecordCacheMiss(tier string) {
	c.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordLedgerQueueDepth reports the usage ledger's current write
// queue depth, sampled periodically by the caller.
func (c *Collector) RecordLedgerQueueDepth(depth int) {
	c.ledgerQueueDepth.Set(float64(depth))
}

// RecordLedgerOverflow records one usage entry dropped because the
// ledger's write queue was full.
func (c *Collector) RecordLedgerOverflow() {
	c.ledgerOverflow.Inc()
}
