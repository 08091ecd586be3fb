package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fluxforge/orchestrator/control_plane/metrics"
)

// RedisStore implements Store and Coordinator using Redis — the fast,
// best-effort backend for agent/task snapshots and the durable
// substrate for HA leader election and idempotency records.
type RedisStore struct {
	client *redis.Client

	versionedSetSHA string
	versionedGetSHA string
}

func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	// Preload Lua scripts for atomic versioned get/set so their text
	// isn't shipped over the wire on every call.
	versionedSetSHA, err := client.ScriptLoad(ctx, versionedSetScript).Result()
	if err != nil {
		return nil, errors.New("failed to preload versioned set script: " + err.Error())
	}
	versionedGetSHA, err := client.ScriptLoad(ctx, versionedGetScript).Result()
	if err != nil {
		return nil, errors.New("failed to preload versioned get script: " + err.Error())
	}

	return &RedisStore{client: client, versionedSetSHA: versionedSetSHA, versionedGetSHA: versionedGetSHA}, nil
}

func redisObserve(operation string) func() {
	start := time.Now()
	return func() {
		metrics.StoreOperationDuration.WithLabelValues("redis", operation).Observe(time.Since(start).Seconds())
	}
}

// --- Coordinator: locks (HA leader election) ---

// AcquireLock attempts to acquire a distributed lock via SET NX EX.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	defer redisObserve("acquire_lock")()
	return s.client.SetNX(ctx, key, ownerID, ttl).Result()
}

// RenewLock extends the TTL if the lock is held by ownerID, atomically.
func (s *RedisStore) RenewLock(ctx context.Context, key string, ownerID string, ttl time.Duration) (bool, error) {
	defer redisObserve("renew_lock")()
	script := `
		local val = redis.call("get", KEYS[1])
		if not val then
			return -1
		end
		if val == ARGV[1] then
			return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
		else
			return -2
		end
	`
	res, err := s.client.Eval(ctx, script, []string{key}, ownerID, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}
	val, ok := res.(int64)
	if !ok {
		return false, errors.New("unexpected return type from lua script")
	}
	return val == 1, nil
}

// ReleaseLock releases the lock if held by ownerID.
func (s *RedisStore) ReleaseLock(ctx context.Context, key string, ownerID string) error {
	defer redisObserve("release_lock")()
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	_, err := s.client.Eval(ctx, script, []string{key}, ownerID).Result()
	return err
}

// GetLockOwner returns the current owner, or empty if free.
func (s *RedisStore) GetLockOwner(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *RedisStore) AcquireLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return s.AcquireLock(ctx, key, value, ttl)
}

func (s *RedisStore) RenewLease(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return s.RenewLock(ctx, key, value, ttl)
}

func (s *RedisStore) ReleaseLease(ctx context.Context, key string, value string) error {
	return s.ReleaseLock(ctx, key, value)
}

func (s *RedisStore) IsLeaseOwner(ctx context.Context, key string, value string) (bool, error) {
	val, err := s.GetLockOwner(ctx, key)
	if err != nil {
		return false, err
	}
	return val == value, nil
}

// IncrementEpoch increments the fencing-token counter for key.
func (s *RedisStore) IncrementEpoch(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key+":epoch").Result()
}

// ScanLocks returns keys matching pattern, used by the lock janitor
// (coordination.LockJanitor).
func (s *RedisStore) ScanLocks(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// --- Store: agent operations ---

func (s *RedisStore) UpsertAgent(ctx context.Context, row AgentRow) error {
	defer redisObserve("upsert_agent")()
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	return s.client.Set(ctx, Key(ResourceAgent, row.AgentID), data, 0).Err()
}

func (s *RedisStore) GetAgent(ctx context.Context, agentID string) (*AgentRow, error) {
	defer redisObserve("get_agent")()
	data, err := s.client.Get(ctx, Key(ResourceAgent, agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var row AgentRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent: %w", err)
	}
	return &row, nil
}

func (s *RedisStore) ListAgents(ctx context.Context) ([]AgentRow, error) {
	defer redisObserve("list_agents")()
	iter := s.client.Scan(ctx, 0, Prefix(ResourceAgent)+"*", 0).Iterator()
	var rows []AgentRow
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var row AgentRow
		if err := json.Unmarshal(data, &row); err == nil {
			rows = append(rows, row)
		}
	}
	return rows, iter.Err()
}

func (s *RedisStore) DeleteAgent(ctx context.Context, agentID string) error {
	defer redisObserve("delete_agent")()
	return s.client.Del(ctx, Key(ResourceAgent, agentID)).Err()
}

func (s *RedisStore) UpdateAgentHeartbeat(ctx context.Context, agentID string, t time.Time) error {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return fmt.Errorf("agent not found: %s", agentID)
	}
	agent.LastHeartbeat = t
	return s.UpsertAgent(ctx, *agent)
}

// --- Store: task operations ---

func (s *RedisStore) UpsertTask(ctx context.Context, row TaskRow) error {
	defer redisObserve("upsert_task")()
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.client.Set(ctx, Key(ResourceTask, row.TaskID), data, 0).Err()
}

func (s *RedisStore) GetTask(ctx context.Context, taskID string) (*TaskRow, error) {
	defer redisObserve("get_task")()
	data, err := s.client.Get(ctx, Key(ResourceTask, taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var row TaskRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &row, nil
}

func (s *RedisStore) ListTasksByStatus(ctx context.Context, status string) ([]TaskRow, error) {
	defer redisObserve("list_tasks_by_status")()
	iter := s.client.Scan(ctx, 0, Prefix(ResourceTask)+"*", 0).Iterator()
	var rows []TaskRow
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var row TaskRow
		if err := json.Unmarshal(data, &row); err == nil && row.Status == status {
			rows = append(rows, row)
		}
	}
	return rows, iter.Err()
}

func (s *RedisStore) CountTasksByStatus(ctx context.Context, status string) (int, error) {
	rows, err := s.ListTasksByStatus(ctx, status)
	return len(rows), err
}

// --- Store: verification and scaling audit trails ---
//
// Redis keeps only a capped recent window (a Redis list) rather than
// the unbounded history Postgres retains: it is the fast path the
// Tuner and auto-scaler actually read from at runtime, not the
// long-term audit log.

const (
	verificationListKey = "fluxforge:verification_outcomes"
	scalingEventListKey = "fluxforge:scaling_events"
	auditListCap        = 10_000
)

func (s *RedisStore) AppendVerificationOutcome(ctx context.Context, row VerificationRow) error {
	defer redisObserve("append_verification_outcome")()
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, verificationListKey, data)
	pipe.LTrim(ctx, verificationListKey, 0, auditListCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListVerificationOutcomesSince(ctx context.Context, cutoff time.Time) ([]VerificationRow, error) {
	defer redisObserve("list_verification_outcomes")()
	raw, err := s.client.LRange(ctx, verificationListKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var rows []VerificationRow
	for _, item := range raw {
		var row VerificationRow
		if err := json.Unmarshal([]byte(item), &row); err == nil && row.Timestamp.After(cutoff) {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *RedisStore) AppendScalingEvent(ctx context.Context, row ScalingEventRow) error {
	defer redisObserve("append_scaling_event")()
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, scalingEventListKey, data)
	pipe.LTrim(ctx, scalingEventListKey, 0, auditListCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListScalingEvents(ctx context.Context, limit int) ([]ScalingEventRow, error) {
	defer redisObserve("list_scaling_events")()
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, scalingEventListKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]ScalingEventRow, 0, len(raw))
	for _, item := range raw {
		var row ScalingEventRow
		if err := json.Unmarshal([]byte(item), &row); err == nil {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.After(rows[j].Timestamp) })
	return rows, nil
}

// --- Store: coordination and idempotency ---

func (s *RedisStore) IncrementDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	return s.IncrementEpoch(ctx, resourceID)
}

func (s *RedisStore) GetDurableEpoch(ctx context.Context, resourceID string) (int64, error) {
	val, err := s.client.Get(ctx, resourceID+":epoch").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

func (s *RedisStore) GetIdempotencyRecord(key string) (string, error) {
	defer redisObserve("get_idempotency_record")()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, "idempotency:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errors.New("not found")
	}
	return val, err
}

func (s *RedisStore) SetIdempotencyRecord(key string, value string, ttl time.Duration) error {
	defer redisObserve("set_idempotency_record")()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.client.Set(ctx, "idempotency:"+key, value, ttl).Err()
}

func (s *RedisStore) SetIdempotencyRecordNX(key string, value string, ttl time.Duration) error {
	defer redisObserve("set_idempotency_record_nx")()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := s.client.SetNX(ctx, "idempotency:"+key, value, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("key exists")
	}
	return nil
}
