package types

import "time"

// CacheKeyTag is the closed set of cache key variants.
type CacheKeyTag string

const (
	KeyAgent              CacheKeyTag = "agent"
	KeyTask               CacheKeyTag = "task"
	KeyAgentMetrics       CacheKeyTag = "agent_metrics"
	KeyTaskMetrics        CacheKeyTag = "task_metrics"
	KeySystemStatus       CacheKeyTag = "system_status"
	KeyPerformanceMetrics CacheKeyTag = "performance_metrics"
	KeyCustom             CacheKeyTag = "custom"
)

// CacheKey is a tagged variant over a small closed set; two keys compare
// equal iff their Tag and Payload are equal, which is exactly Go's
// default struct-equality for comparable field types, so CacheKey can be
// used directly as a map key.
type CacheKey struct {
	Tag     CacheKeyTag
	Payload string
}

func AgentKey(id string) CacheKey        { return CacheKey{Tag: KeyAgent, Payload: id} }
func TaskKey(id string) CacheKey         { return CacheKey{Tag: KeyTask, Payload: id} }
func AgentMetricsKey(id string) CacheKey { return CacheKey{Tag: KeyAgentMetrics, Payload: id} }
func TaskMetricsKey(id string) CacheKey  { return CacheKey{Tag: KeyTaskMetrics, Payload: id} }
func SystemStatusKey(tag string) CacheKey       { return CacheKey{Tag: KeySystemStatus, Payload: tag} }
func PerformanceMetricsKey(tag string) CacheKey { return CacheKey{Tag: KeyPerformanceMetrics, Payload: tag} }
func CustomKey(s string) CacheKey        { return CacheKey{Tag: KeyCustom, Payload: s} }

// CacheEntry is the stored value plus the bookkeeping the cache needs for
// validity and eviction.
type CacheEntry struct {
	Value        any
	CachedAt     time.Time
	Version      int64
	Dependencies []CacheKey
	// AccessedAt supports the optional access-recency LRU variant;
	// CachedAt alone supports the "simple variant" of time-based validity.
	AccessedAt time.Time
}

// ScalingDecision is the closed set of auto-scaler actions.
type ScalingDecision string

const (
	DecisionScaleUp  ScalingDecision = "scale_up"
	DecisionScaleDown ScalingDecision = "scale_down"
	DecisionReplace  ScalingDecision = "replace"
)

// ScalingMetrics is the snapshot the auto-scaler evaluates each tick.
type ScalingMetrics struct {
	AgentCount        int
	AggregateQueueDepth int
	MeanResponseLatency time.Duration
	Utilization       float64 // Working / Total
	FailureRate       float64
	CPUPercent        float64
	MemoryPercent     float64
}

// ScalingEvent is the audit record for one fired (or refused) policy
// action.
type ScalingEvent struct {
	PolicyID       string
	Decision       ScalingDecision
	AffectedAgents []string
	Success        bool
	Reason         string
	Before         ScalingMetrics
	After          *ScalingMetrics
	Timestamp      time.Time
}

// MetricSample is one named numeric observation.
type MetricSample struct {
	Name      string
	Value     float64
	Timestamp time.Time
}
