package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for locator resolution. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	resolutions   *prometheus.CounterVec
	oracleCalls   *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
	patternWrites *prometheus.CounterVec
	memoryLookups *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Element resolutions by flow, method and outcome.",
			},
			[]string{"flow", "method", "outcome"},
		),
		oracleCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oracle_calls_total",
				Help:      "Oracle backend calls by oracle kind and outcome.",
			},
			[]string{"oracle", "outcome"},
		),
		oracleLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "oracle_call_duration_seconds",
				Help:      "Oracle call latency in seconds.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"oracle"},
		),
		patternWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pattern_writes_total",
				Help:      "Pattern memory writes by outcome.",
			},
			[]string{"outcome"},
		),
		memoryLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_lookups_total",
				Help:      "Pattern memory lookups by matching tier (exact, partial, semantic, miss).",
			},
			[]string{"tier"},
		),
	}
	reg.MustRegister(m.resolutions, m.oracleCalls, m.oracleLatency, m.patternWrites, m.memoryLookups)
	return m
}

// ObserveResolution counts a resolution attempt. method is empty on failure.
func (m *Metrics) ObserveResolution(flow, method string, ok bool) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.resolutions.WithLabelValues(flow, method, outcome(ok)).Inc()
}

// ObserveOracleCall records an oracle call's outcome and latency.
func (m *Metrics) ObserveOracleCall(oracle string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(oracle, outcome(err == nil)).Inc()
	m.oracleLatency.WithLabelValues(oracle).Observe(time.Since(started).Seconds())
}

// ObservePatternWrite counts a pattern persistence attempt.
func (m *Metrics) ObservePatternWrite(err error) {
	if m == nil {
		return
	}
	m.patternWrites.WithLabelValues(outcome(err == nil)).Inc()
}

// ObserveMemoryLookup counts a retrieval by the tier that matched.
func (m *Metrics) ObserveMemoryLookup(tier string) {
	if m == nil {
		return
	}
	m.memoryLookups.WithLabelValues(tier).Inc()
}

// Handler serves the collectors registered with gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
