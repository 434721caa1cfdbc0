package rules

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_dispatches_total",
			Help: "Total number of rule activations by signal kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: executed, skipped, suppressed, failed
	)

	actionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleflow_actions_total",
			Help: "Total number of executed actions by type and status",
		},
		[]string{"type", "status"},
	)

	suppressedNotifications = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruleflow_suppressed_notifications_total",
			Help: "Notifications suppressed by aggregation windows",
		},
	)

	escalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruleflow_escalations_total",
			Help: "Escalation dispatches for unresolved aggregation buckets",
		},
	)

	openBuckets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruleflow_open_buckets",
			Help: "Aggregation buckets currently tracked",
		},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruleflow_dispatch_duration_seconds",
			Help:    "Time spent dispatching one rule activation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
