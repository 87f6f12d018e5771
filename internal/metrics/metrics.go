package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// feedSyncTotal tracks sync attempts by connector and outcome
	feedSyncTotal *prometheus.CounterVec

	// feedSyncDuration tracks latency of connector syncs
	feedSyncDuration *prometheus.HistogramVec

	// feedIndicatorsTotal tracks indicators emitted per connector
	feedIndicatorsTotal *prometheus.CounterVec

	// feedIndicatorsDropped tracks indicators rejected by validation
	feedIndicatorsDropped *prometheus.CounterVec

	// feedErrorsTotal tracks connector errors by type
	feedErrorsTotal *prometheus.CounterVec

	// breakerOpensTotal tracks circuit breaker trips per connector
	breakerOpensTotal *prometheus.CounterVec

	// ruleDecisionsTotal tracks pipeline decisions (created/updated/skipped)
	ruleDecisionsTotal *prometheus.CounterVec

	// clustersTotal tracks clusters produced per strategy
	clustersTotal *prometheus.CounterVec

	// riskScore tracks the distribution of contextual risk scores
	riskScore prometheus.Histogram

	// stateTransitionsTotal tracks lifecycle transitions by edge
	stateTransitionsTotal *prometheus.CounterVec
)

// Init registers all Prometheus metrics for the pipeline.
// This should be called once at application startup.
func Init() {
	metricsOnce.Do(func() {
		feedSyncTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_feed_sync_total",
				Help: "Total number of feed sync attempts by connector and outcome",
			},
			[]string{"connector", "outcome"},
		)

		feedSyncDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskwatch_feed_sync_duration_seconds",
				Help:    "Duration of connector syncs in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"connector"},
		)

		feedIndicatorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_feed_indicators_total",
				Help: "Total number of valid indicators emitted per connector",
			},
			[]string{"connector"},
		)

		feedIndicatorsDropped = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_feed_indicators_dropped_total",
				Help: "Total number of indicators dropped by validation per connector",
			},
			[]string{"connector", "reason"},
		)

		feedErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_feed_errors_total",
				Help: "Total number of connector errors by error type",
			},
			[]string{"connector", "error_type"},
		)

		breakerOpensTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_breaker_opens_total",
				Help: "Total number of circuit breaker trips per connector",
			},
			[]string{"connector"},
		)

		ruleDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_rule_decisions_total",
				Help: "Total number of ingestion decisions by outcome",
			},
			[]string{"decision"},
		)

		clustersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_clusters_total",
				Help: "Total number of correlation clusters produced per strategy",
			},
			[]string{"strategy"},
		)

		riskScore = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskwatch_contextual_risk_score",
				Help:    "Distribution of computed contextual risk scores (0-100)",
				Buckets: []float64{5, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		)

		stateTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskwatch_state_transitions_total",
				Help: "Total number of risk lifecycle transitions by edge",
			},
			[]string{"from", "to", "automated"},
		)
	})
}

// RecordSync records a sync attempt with its outcome.
// outcome: "ok", "error", "skipped", "breaker_open"
func RecordSync(connector, outcome string) {
	if feedSyncTotal != nil {
		feedSyncTotal.WithLabelValues(connector, outcome).Inc()
	}
}

// RecordSyncDuration records the duration of a connector sync.
func RecordSyncDuration(connector string, d time.Duration) {
	if feedSyncDuration != nil {
		feedSyncDuration.WithLabelValues(connector).Observe(d.Seconds())
	}
}

// RecordIndicators records valid indicators emitted by a connector.
func RecordIndicators(connector string, n int) {
	if feedIndicatorsTotal != nil && n > 0 {
		feedIndicatorsTotal.WithLabelValues(connector).Add(float64(n))
	}
}

// RecordDropped records an indicator rejected before emission.
// reason: "invalid_value", "filtered", "parse"
func RecordDropped(connector, reason string) {
	if feedIndicatorsDropped != nil {
		feedIndicatorsDropped.WithLabelValues(connector, reason).Inc()
	}
}

// RecordFeedError records a connector error by type.
// errorType: "fetch", "parse", "timeout", "rate_limit", "breaker_open"
func RecordFeedError(connector, errorType string) {
	if feedErrorsTotal != nil {
		feedErrorsTotal.WithLabelValues(connector, errorType).Inc()
	}
}

// RecordBreakerOpen records a circuit breaker trip.
func RecordBreakerOpen(connector string) {
	if breakerOpensTotal != nil {
		breakerOpensTotal.WithLabelValues(connector).Inc()
	}
}

// RecordDecision records an ingestion decision.
// decision: "created", "updated", "skipped"
func RecordDecision(decision string) {
	if ruleDecisionsTotal != nil {
		ruleDecisionsTotal.WithLabelValues(decision).Inc()
	}
}

// RecordClusters records clusters produced by one strategy in a pass.
func RecordClusters(strategy string, n int) {
	if clustersTotal != nil && n > 0 {
		clustersTotal.WithLabelValues(strategy).Add(float64(n))
	}
}

// RecordScore records a computed contextual risk score.
func RecordScore(score float64) {
	if riskScore != nil {
		riskScore.Observe(score)
	}
}

// RecordTransition records a lifecycle transition.
func RecordTransition(from, to string, automated bool) {
	if stateTransitionsTotal != nil {
		auto := "false"
		if automated {
			auto = "true"
		}
		stateTransitionsTotal.WithLabelValues(from, to, auto).Inc()
	}
}

// SyncTimer is a helper for timing connector syncs
type SyncTimer struct {
	connector string
	start     time.Time
}

// StartSyncTimer creates a new timer for measuring sync duration
func StartSyncTimer(connector string) *SyncTimer {
	return &SyncTimer{connector: connector, start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started
func (t *SyncTimer) ObserveDuration() {
	if t != nil {
		RecordSyncDuration(t.connector, time.Since(t.start))
	}
}
