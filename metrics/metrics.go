package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_recorded_total",
			Help: "Total number of security events accepted for recording",
		},
		[]string{"category"},
	)

	ImmediateWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_immediate_writes_total",
			Help: "Total number of critical-path single-event writes",
		},
	)

	ImmediateWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_immediate_write_failures_total",
			Help: "Total number of failed critical-path writes (events dropped)",
		},
	)

	BatchFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_batch_flushes_total",
			Help: "Total number of successful batch flushes to storage",
		},
	)

	BatchFlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_batch_flush_failures_total",
			Help: "Total number of failed batch flushes (batch requeued)",
		},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_events_dropped_total",
			Help: "Total number of events dropped due to a full buffer",
		},
	)

	BufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_buffer_depth",
			Help: "Current number of events waiting in the batch buffer",
		},
	)

	RulesEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rules_evaluated_total",
			Help: "Total number of rule evaluations",
		},
		[]string{"rule_type"},
	)

	RulesTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rules_triggered_total",
			Help: "Total number of rule triggers",
		},
		[]string{"rule_type"},
	)

	RuleReloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_rule_reloads_total",
			Help: "Total number of successful rule set reloads",
		},
	)

	RuleReloadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_rule_reload_failures_total",
			Help: "Total number of failed rule set reloads",
		},
	)

	AnalyzeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_analyze_duration_seconds",
			Help:    "Time taken to analyze one event against the active rule set",
			Buckets: prometheus.DefBuckets,
		},
	)
)
