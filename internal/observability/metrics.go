// Package observability holds the Prometheus metrics of the service. They
// replace the engagement and API call tracking of the old web client.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "insight_chat"

// Query outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeDropped  = "dropped"
)

// Engagement actions.
const (
	ActionDeleteMessage  = "delete_message"
	ActionDeleteAnalysis = "delete_analysis"
	ActionNavigate       = "navigate"
	ActionClearAll       = "clear_all"
	ActionViewChange     = "view_change"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	// QueriesTotal counts submitted queries by outcome.
	QueriesTotal *prometheus.CounterVec

	// EngagementTotal counts conversation actions other than queries.
	EngagementTotal *prometheus.CounterVec

	// BackendDurationSeconds measures analysis service latency.
	// Labels: model, outcome (success, failure)
	BackendDurationSeconds *prometheus.HistogramVec

	// InFlightQueries is the number of queries waiting on the analysis service.
	InFlightQueries prometheus.Gauge
}

// NewMetrics registers the metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "queries_total",
				Help:      "Total number of submitted queries by outcome",
			},
			[]string{"outcome"},
		),
		EngagementTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "engagement_total",
				Help:      "Total conversation actions by type",
			},
			[]string{"action"},
		),
		BackendDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "backend_duration_seconds",
				Help:      "Analysis service call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"model", "outcome"},
		),
		InFlightQueries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "in_flight_queries",
				Help:      "Number of queries waiting on the analysis service",
			},
		),
	}
}

func (m *Metrics) RecordQuery(outcome string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordEngagement(action string) {
	if m == nil {
		return
	}
	m.EngagementTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveBackend(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendDurationSeconds.WithLabelValues(model, outcome).Observe(d.Seconds())
}

func (m *Metrics) QueryStarted() {
	if m == nil {
		return
	}
	m.InFlightQueries.Inc()
}

func (m *Metrics) QueryFinished() {
	if m == nil {
		return
	}
	m.InFlightQueries.Dec()
}
