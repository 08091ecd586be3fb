package store

import (
	"context"
	"time"
)

// Store is the persisted-state collaborator. Components write durable
// rows through this interface instead of touching a backend directly:
// the coordinator writes agent and task rows, the task runner writes
// task status and verification outcomes, and AgentMonitor reads and
// rewrites agent rows. Nothing in the control plane calls
// AppendScalingEvent, and no component reloads the registry, the
// scheduler or the outcome window from these rows at startup. MemoryStore, PostgresStore,
// and RedisStore each implement it, abstracting over Postgres
// (durable) and Redis (fast, best-effort) the same way the teacher's
// Store interface abstracted its tenant-scoped rows.
type Store interface {
	// Agent operations.
	UpsertAgent(ctx context.Context, row AgentRow) error
	GetAgent(ctx context.Context, agentID string) (*AgentRow, error)
	ListAgents(ctx context.Context) ([]AgentRow, error)
	DeleteAgent(ctx context.Context, agentID string) error
	UpdateAgentHeartbeat(ctx context.Context, agentID string, t time.Time) error

	// Task operations.
	UpsertTask(ctx context.Context, row TaskRow) error
	GetTask(ctx context.Context, taskID string) (*TaskRow, error)
	ListTasksByStatus(ctx context.Context, status string) ([]TaskRow, error)
	CountTasksByStatus(ctx context.Context, status string) (int, error)

	// Verification operations: the adaptive Tuner's rolling outcome window.
	AppendVerificationOutcome(ctx context.Context, row VerificationRow) error
	ListVerificationOutcomesSince(ctx context.Context, cutoff time.Time) ([]VerificationRow, error)

	// Scaling operations: the auto-scaler's audit trail.
	AppendScalingEvent(ctx context.Context, row ScalingEventRow) error
	ListScalingEvents(ctx context.Context, limit int) ([]ScalingEventRow, error)

	// Coordination operations (HA fencing tokens).
	// IncrementDurableEpoch increments the epoch for a resource (e.g.
	// "leader_election") and returns the new epoch, atomically.
	IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error)
	// GetDurableEpoch returns the current epoch without incrementing.
	GetDurableEpoch(ctx context.Context, resourceID string) (int64, error)

	// Idempotency operations: at-most-one in-flight attempt tracking.
	GetIdempotencyRecord(key string) (string, error)
	SetIdempotencyRecord(key string, value string, ttl time.Duration) error
	SetIdempotencyRecordNX(key string, value string, ttl time.Duration) error
}
