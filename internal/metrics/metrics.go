// Package metrics declares the process's Prometheus collectors, scraped by
// the API's /metrics endpoint.
//
// Grounded in ducminhle1904-crypto-dca-bot's internal/monitoring/metrics.go:
// promauto-registered CounterVec/HistogramVec/GaugeVec package vars, one
// small Record helper per concern, no custom Collector/Registry plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskRuns counts scheduler.Task runs by name and outcome (ok|failed|panic).
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regime_engine_task_runs_total",
			Help: "Total scheduler task runs by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	// TaskDuration observes how long one scheduler task run took.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regime_engine_task_duration_seconds",
			Help:    "Scheduler task run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"task"},
	)

	// StateTransitions counts events.EventType publications by event type.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regime_engine_state_transitions_total",
			Help: "State-transition events published, by event type",
		},
		[]string{"event_type"},
	)

	// RegimeAE reports the current Regime A/E scalars.
	RegimeAE = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regime_engine_regime_ae",
			Help: "Current Regime Aggressiveness/Exitness score",
		},
		[]string{"component"}, // "a" or "e"
	)
)

// RecordTask records one scheduler task run's outcome and duration.
func RecordTask(task, outcome string, seconds float64) {
	TaskRuns.WithLabelValues(task, outcome).Inc()
	TaskDuration.WithLabelValues(task).Observe(seconds)
}

// RecordTransition records one published state-transition event.
func RecordTransition(eventType string) {
	StateTransitions.WithLabelValues(eventType).Inc()
}

// RecordRegimeAE reports the current A/E scalars.
func RecordRegimeAE(a, e float64) {
	RegimeAE.WithLabelValues("a").Set(a)
	RegimeAE.WithLabelValues("e").Set(e)
}
