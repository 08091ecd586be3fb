package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fluxforge/orchestrator/control_plane/metrics"
)

// PostgresStore implements Store using a PostgreSQL backend — the
// durable system of record for agents, tasks, and the audit trails
// (verification outcomes, scaling events) a restarted orchestrator
// rehydrates from.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func observe(operation string) func() {
	start := time.Now()
	return func() {
		metrics.StoreOperationDuration.WithLabelValues("postgres", operation).Observe(time.Since(start).Seconds())
	}
}

// --- Agent operations ---

func (s *PostgresStore) UpsertAgent(ctx context.Context, row AgentRow) error {
	defer observe("upsert_agent")()
	caps, err := json.Marshal(row.Capabilities)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO agents (agent_id, kind_tag, kind_spec, state, energy, position_x, position_y, capabilities, last_heartbeat_at, created_at, last_state_at, retired_at, retired_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (agent_id) DO UPDATE SET
			kind_tag = EXCLUDED.kind_tag,
			kind_spec = EXCLUDED.kind_spec,
			state = EXCLUDED.state,
			energy = EXCLUDED.energy,
			position_x = EXCLUDED.position_x,
			position_y = EXCLUDED.position_y,
			capabilities = EXCLUDED.capabilities,
			last_heartbeat_at = EXCLUDED.last_heartbeat_at,
			last_state_at = EXCLUDED.last_state_at,
			retired_at = EXCLUDED.retired_at,
			retired_reason = EXCLUDED.retired_reason
	`
	_, err = s.pool.Exec(ctx, query,
		row.AgentID, row.KindTag, row.KindSpec, row.State, row.Energy, row.PositionX, row.PositionY,
		caps, row.LastHeartbeat, row.CreatedAt, row.LastStateAt, row.RetiredAt, row.RetiredReason,
	)
	return err
}

func (s *PostgresStore) GetAgent(ctx context.Context, agentID string) (*AgentRow, error) {
	defer observe("get_agent")()
	query := `
		SELECT agent_id, kind_tag, kind_spec, state, energy, position_x, position_y, capabilities, last_heartbeat_at, created_at, last_state_at, retired_at, retired_reason
		FROM agents WHERE agent_id = $1
	`
	var row AgentRow
	var caps []byte
	err := s.pool.QueryRow(ctx, query, agentID).Scan(
		&row.AgentID, &row.KindTag, &row.KindSpec, &row.State, &row.Energy, &row.PositionX, &row.PositionY,
		&caps, &row.LastHeartbeat, &row.CreatedAt, &row.LastStateAt, &row.RetiredAt, &row.RetiredReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(caps, &row.Capabilities); err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]AgentRow, error) {
	defer observe("list_agents")()
	query := `
		SELECT agent_id, kind_tag, kind_spec, state, energy, position_x, position_y, capabilities, last_heartbeat_at, created_at, last_state_at, retired_at, retired_reason
		FROM agents
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AgentRow
	for rows.Next() {
		var row AgentRow
		var caps []byte
		if err := rows.Scan(
			&row.AgentID, &row.KindTag, &row.KindSpec, &row.State, &row.Energy, &row.PositionX, &row.PositionY,
			&caps, &row.LastHeartbeat, &row.CreatedAt, &row.LastStateAt, &row.RetiredAt, &row.RetiredReason,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(caps, &row.Capabilities); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, agentID string) error {
	defer observe("delete_agent")()
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE agent_id = $1`, agentID)
	return err
}

func (s *PostgresStore) UpdateAgentHeartbeat(ctx context.Context, agentID string, t time.Time) error {
	defer observe("update_agent_heartbeat")()
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET last_heartbeat_at = $1 WHERE agent_id = $2`, t, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("agent not found")
	}
	return nil
}

// --- Task operations ---

func (s *PostgresStore) UpsertTask(ctx context.Context, row TaskRow) error {
	defer observe("upsert_task")()
	query := `
		INSERT INTO tasks (task_id, title, type, priority, status, assigned_agent, attempt, created_at, updated_at, submit_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (task_id) DO UPDATE SET
			title = EXCLUDED.title,
			type = EXCLUDED.type,
			priority = EXCLUDED.priority,
			status = EXCLUDED.status,
			assigned_agent = EXCLUDED.assigned_agent,
			attempt = EXCLUDED.attempt,
			updated_at = EXCLUDED.updated_at,
			submit_time = EXCLUDED.submit_time
	`
	_, err := s.pool.Exec(ctx, query,
		row.TaskID, row.Title, row.Type, row.Priority, row.Status, row.AssignedAgent,
		row.Attempt, row.CreatedAt, row.UpdatedAt, row.SubmitTime,
	)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*TaskRow, error) {
	defer observe("get_task")()
	query := `
		SELECT task_id, title, type, priority, status, assigned_agent, attempt, created_at, updated_at, submit_time
		FROM tasks WHERE task_id = $1
	`
	var row TaskRow
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&row.TaskID, &row.Title, &row.Type, &row.Priority, &row.Status, &row.AssignedAgent,
		&row.Attempt, &row.CreatedAt, &row.UpdatedAt, &row.SubmitTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *PostgresStore) ListTasksByStatus(ctx context.Context, status string) ([]TaskRow, error) {
	defer observe("list_tasks_by_status")()
	query := `
		SELECT task_id, title, type, priority, status, assigned_agent, attempt, created_at, updated_at, submit_time
		FROM tasks WHERE status = $1
	`
	rows, err := s.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TaskRow
	for rows.Next() {
		var row TaskRow
		if err := rows.Scan(
			&row.TaskID, &row.Title, &row.Type, &row.Priority, &row.Status, &row.AssignedAgent,
			&row.Attempt, &row.CreatedAt, &row.UpdatedAt, &row.SubmitTime,
		); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, nil
}

func (s *PostgresStore) CountTasksByStatus(ctx context.Context, status string) (int, error) {
	defer observe("count_tasks_by_status")()
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE status = $1`, status).Scan(&count)
	return count, err
}

// --- Verification operations ---

func (s *PostgresStore) AppendVerificationOutcome(ctx context.Context, row VerificationRow) error {
	defer observe("append_verification_outcome")()
	query := `
		INSERT INTO verification_outcomes (task_id, verdict, confidence, overall_score, actual_success, verification_time_ns, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.pool.Exec(ctx, query,
		row.TaskID, row.Verdict, row.Confidence, row.OverallScore, row.ActualSuccess,
		int64(row.VerificationTime), row.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListVerificationOutcomesSince(ctx context.Context, cutoff time.Time) ([]VerificationRow, error) {
	defer observe("list_verification_outcomes")()
	query := `
		SELECT task_id, verdict, confidence, overall_score, actual_success, verification_time_ns, timestamp
		FROM verification_outcomes WHERE timestamp > $1 ORDER BY timestamp ASC
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []VerificationRow
	for rows.Next() {
		var row VerificationRow
		var verificationNs int64
		if err := rows.Scan(
			&row.TaskID, &row.Verdict, &row.Confidence, &row.OverallScore, &row.ActualSuccess,
			&verificationNs, &row.Timestamp,
		); err != nil {
			return nil, err
		}
		row.VerificationTime = time.Duration(verificationNs)
		result = append(result, row)
	}
	return result, nil
}

// --- Scaling operations ---

func (s *PostgresStore) AppendScalingEvent(ctx context.Context, row ScalingEventRow) error {
	defer observe("append_scaling_event")()
	affected, err := json.Marshal(row.AffectedAgents)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO scaling_events (event_id, policy_id, decision, affected_agents, success, reason, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, query, row.EventID, row.PolicyID, row.Decision, affected, row.Success, row.Reason, row.Timestamp)
	return err
}

func (s *PostgresStore) ListScalingEvents(ctx context.Context, limit int) ([]ScalingEventRow, error) {
	defer observe("list_scaling_events")()
	query := `
		SELECT event_id, policy_id, decision, affected_agents, success, reason, timestamp
		FROM scaling_events ORDER BY timestamp DESC LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ScalingEventRow
	for rows.Next() {
		var row ScalingEventRow
		var affected []byte
		if err := rows.Scan(&row.EventID, &row.PolicyID, &row.Decision, &affected, &row.Success, &row.Reason, &row.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(affected, &row.AffectedAgents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, nil
}

// --- Coordination operations ---

func (s *PostgresStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	defer observe("increment_durable_epoch")()
	query := `
		INSERT INTO leader_epochs (resource_id, epoch)
		VALUES ($1, 1)
		ON CONFLICT (resource_id) DO UPDATE SET epoch = leader_epochs.epoch + 1
		RETURNING epoch
	`
	var newEpoch int64
	err := s.pool.QueryRow(ctx, query, resourceID).Scan(&newEpoch)
	return newEpoch, err
}

func (s *PostgresStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	defer observe("get_durable_epoch")()
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT epoch FROM leader_epochs WHERE resource_id = $1`, resourceID).Scan(&epoch)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return epoch, err
}

// --- Idempotency operations ---
//
// Postgres is not the right backend for high-churn idempotency
// records (Redis is); kept for interface completeness only, matching
// the teacher's own "implemented for completeness" note on
// PostgresStore's idempotency stubs.

func (s *PostgresStore) GetIdempotencyRecord(key string) (string, error) {
	return "", errors.New("not found")
}

func (s *PostgresStore) SetIdempotencyRecord(key string, value string, ttl time.Duration) error {
	return nil
}

func (s *PostgresStore) SetIdempotencyRecordNX(key string, value string, ttl time.Duration) error {
	return nil
}
