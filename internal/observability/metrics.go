// Package observability provides Prometheus metrics for session ingest and
// tendency queries.
//
// A nil *Metrics is valid and records nothing. Safe for concurrent use.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pitchtend"

// Submit results recorded on SessionsSubmitted.
const (
	ResultOK         = "ok"
	ResultValidation = "validation"
	ResultConflict   = "conflict"
	ResultError      = "error"
)

// Metrics holds the counters and histograms exported on /metrics.
type Metrics struct {
	SessionsSubmitted *prometheus.CounterVec
	NoteSamplesStored prometheus.Counter
	TendencyQueries   *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
}

// NewMetrics registers all metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_submitted_total",
			Help:      "Session submissions by result",
		}, []string{"result"}),

		NoteSamplesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "note_samples_stored_total",
			Help:      "Note samples written by successful submissions",
		}),

		// scope: all, instrument
		TendencyQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tendency_queries_total",
			Help:      "Tendency summaries computed, by filter scope",
		}, []string{"scope"}),

		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tendency_query_duration_seconds",
			Help:      "Time to read note records and compute tendencies",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// RecordSubmit counts one submission and, on success, its stored notes.
func (m *Metrics) RecordSubmit(result string, notes int) {
	if m == nil {
		return
	}
	m.SessionsSubmitted.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.NoteSamplesStored.Add(float64(notes))
	}
}

// RecordQuery counts one tendency query and observes its latency.
func (m *Metrics) RecordQuery(filtered bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	scope := "all"
	if filtered {
		scope = "instrument"
	}
	m.TendencyQueries.WithLabelValues(scope).Inc()
	m.QueryDuration.Observe(elapsed.Seconds())
}
