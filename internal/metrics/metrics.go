package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_total",
			Help: "Total number of request events processed",
		},
		[]string{"source", "status"},
	)

	EventScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_event_score",
			Help:    "Distribution of per-event abuse scores",
			Buckets: []float64{0, 1, 2, 5, 10, 15, 20, 50, 100},
		},
	)

	// Detection metrics
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Total number of threshold alerts raised",
		},
		[]string{"alarm"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cooldown",
		},
	)

	TrackingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_tracking_update_duration_seconds",
			Help:    "Duration of aggregation store updates in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrackingErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_tracking_errors_total",
			Help: "Total number of aggregation store update errors",
		},
	)

	// Response metrics
	OrchestrationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_orchestration_runs_total",
			Help: "Total number of orchestration runs by alarm category",
		},
		[]string{"category"},
	)

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_actions_total",
			Help: "Total number of executed response actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	IPsBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_ips_blocked_total",
			Help: "Total number of identities blocked at the control plane",
		},
	)

	// Reputation metrics
	ReputationLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_reputation_lookups_total",
			Help: "Total number of reputation lookups by source",
		},
		[]string{"source"},
	)
)
