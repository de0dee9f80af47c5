package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_submissions_total",
	Help: "Submissions by result",
}, []string{"result"})

var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_decisions_total",
	Help: "Moderation decisions by outcome",
}, []string{"outcome"})

var DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "anonmod_decision_latency_seconds",
	Help:    "Time from submission to decision",
	Buckets: prometheus.ExponentialBuckets(10, 4, 8),
})

var PendingItems = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "anonmod_pending_items",
	Help: "Pending moderation items at the last count",
})

var SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_sweep_runs_total",
	Help: "Sweep runs by task and result",
}, []string{"task", "result"})

var SweepReaped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_sweep_reaped_total",
	Help: "Rows transitioned by sweeps",
}, []string{"task"})

var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_cache_lookups_total",
	Help: "Tiered cache lookups by cache, tier and result",
}, []string{"cache", "tier", "result"})

var Punishments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_punishments_total",
	Help: "Punishment lifecycle events by kind",
}, []string{"kind", "event"})

var Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "anonmod_deliveries_total",
	Help: "Outbound transport and webhook deliveries by channel and result",
}, []string{"channel", "result"})
