// Package metrics is the leaf metrics-aggregation component: a
// rolling-window store for named numeric signals, a cooldown-
// gated alert evaluator, and a Prometheus export surface grounded on the
// teacher's observability/metrics.go promauto vocabulary (trimmed and
// retargeted from reconciliation/leadership telemetry to the five core
// components this repository actually implements).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flux_queue_depth",
		Help: "Current number of tasks in the scheduling queue",
	}, []string{"priority"})

	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made",
	}, []string{"decision", "reason"})

	StealAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_scheduler_steal_attempts_total",
		Help: "Work-stealing attempts by outcome",
	}, []string{"outcome"}) // stolen, rate_limited, lost_race

	QueueOldestTaskAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flux_queue_oldest_task_age_seconds",
		Help: "Age of the oldest task in the global intake queue",
	}, []string{"priority"})

	AgentCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flux_agent_count",
		Help: "Current number of agents by state",
	}, []string{"state"})

	ScalingActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_scaling_actions_total",
		Help: "Auto-scaler actions taken, by decision and outcome",
	}, []string{"decision", "outcome"}) // outcome: fired, refused

	VerificationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_verification_verdicts_total",
		Help: "Verification outcomes by verdict",
	}, []string{"verdict"})

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flux_verification_duration_seconds",
		Help:    "Wall-clock time of a verification run",
		Buckets: prometheus.DefBuckets,
	})

	AdaptationSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_adaptation_sweeps_total",
		Help: "Adaptive threshold sweeps, by outcome",
	}, []string{"outcome"}) // applied, skipped_confidence, skipped_samples

	ConfidenceThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flux_confidence_threshold",
		Help: "Current Stage B confidence threshold",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_cache_hits_total",
		Help: "Cache get_or_compute outcomes",
	}, []string{"outcome"}) // hit, miss, coalesced

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_cache_evictions_total",
		Help: "Cache entries evicted, by reason",
	}, []string{"reason"}) // dependency, lru, manual

	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flux_leader_status",
		Help: "1 if this process holds the HA leader lease, else 0",
	})

	LeadershipTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_leadership_transitions_total",
		Help: "Leader election transitions, by node and kind",
	}, []string{"node_id", "kind"}) // acquired, lost, epoch_drift

	LeadershipTransitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flux_leadership_transition_duration_seconds",
		Help:    "Time between losing and re-acquiring leadership",
		Buckets: prometheus.DefBuckets,
	})

	LeadershipEpoch = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flux_leadership_epoch",
		Help: "Current durable fencing epoch held by this node",
	}, []string{"node_id"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flux_alerts_fired_total",
		Help: "Alert rule firings, by rule and severity",
	}, []string{"rule", "severity"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flux_store_operation_duration_seconds",
		Help:    "Latency of persisted-state collaborator operations, by backend and operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation"})
)
