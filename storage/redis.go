package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
)

// RedisRepository implements Repository on Redis.
//
// Key layout (under the configured prefix):
//
//	{prefix}:execution:{id}              execution row (JSON)
//	{prefix}:execution:{id}:escalations  escalation ids raised for it (Set)
//	{prefix}:executions                  all execution ids (Set)
//	{prefix}:tenant:{tid}:executions     tenant's execution ids (Set)
//	{prefix}:events:{id}                 event log (List, chronological)
//	{prefix}:audit:{tid}                 audit trail (List, newest first)
//	{prefix}:escalation:{id}             escalation row (JSON)
//	{prefix}:tenant:{tid}:escalations    active escalation ids (Set)
//	{prefix}:deleted                     soft-deleted ids scored by
//	                                     deletion time (Sorted Set)
//
// Listings and statistics load the relevant index set and hydrate rows
// individually; the sets are per tenant, so the fan-out is bounded by
// one tenant's history, not the whole keyspace.
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
	logger    core.Logger
}

// RedisOption configures a RedisRepository.
type RedisOption func(*RedisRepository)

// WithRedisLogger sets the repository's logger.
func WithRedisLogger(logger core.Logger) RedisOption {
	return func(r *RedisRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRedisKeyPrefix namespaces all keys. Defaults to "cognigate".
func WithRedisKeyPrefix(prefix string) RedisOption {
	return func(r *RedisRepository) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// NewRedisRepository connects to Redis and verifies the connection.
func NewRedisRepository(redisURL string, opts ...RedisOption) (*RedisRepository, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %s: %w", redisURL, err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", redisURL, err)
	}

	r := &RedisRepository{
		client:    client,
		keyPrefix: "cognigate",
		logger:    &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *RedisRepository) executionKey(id string) string {
	return fmt.Sprintf("%s:execution:%s", r.keyPrefix, id)
}

func (r *RedisRepository) executionEscalationsKey(id string) string {
	return fmt.Sprintf("%s:execution:%s:escalations", r.keyPrefix, id)
}

func (r *RedisRepository) executionsKey() string {
	return fmt.Sprintf("%s:executions", r.keyPrefix)
}

func (r *RedisRepository) tenantExecutionsKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s:executions", r.keyPrefix, tenantID)
}

func (r *RedisRepository) eventsKey(executionID string) string {
	return fmt.Sprintf("%s:events:%s", r.keyPrefix, executionID)
}

func (r *RedisRepository) auditKey(tenantID string) string {
	return fmt.Sprintf("%s:audit:%s", r.keyPrefix, tenantID)
}

func (r *RedisRepository) escalationKey(id string) string {
	return fmt.Sprintf("%s:escalation:%s", r.keyPrefix, id)
}

func (r *RedisRepository) tenantEscalationsKey(tenantID string) string {
	return fmt.Sprintf("%s:tenant:%s:escalations", r.keyPrefix, tenantID)
}

func (r *RedisRepository) deletedKey() string {
	return fmt.Sprintf("%s:deleted", r.keyPrefix)
}

// CreateExecution stores a new execution row and indexes it.
func (r *RedisRepository) CreateExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.ExecutionID == "" {
		return core.NewRepositoryError("redis.CreateExecution", fmt.Errorf("execution id is required"))
	}
	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	data, err := json.Marshal(&stored)
	if err != nil {
		return core.NewRepositoryError("redis.CreateExecution", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.executionKey(stored.ExecutionID), data, 0)
	pipe.SAdd(ctx, r.executionsKey(), stored.ExecutionID)
	pipe.SAdd(ctx, r.tenantExecutionsKey(stored.TenantID), stored.ExecutionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.CreateExecution", err)
	}
	return nil
}

// GetExecution loads an execution row.
func (r *RedisRepository) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	data, err := r.client.Get(ctx, r.executionKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, core.ErrExecutionNotFound)
	}
	if err != nil {
		return nil, core.NewRepositoryError("redis.GetExecution", err)
	}
	var record ExecutionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, core.NewRepositoryError("redis.GetExecution", err)
	}
	return &record, nil
}

// ListExecutions hydrates rows from the tenant or global index, filters,
// and returns them newest first.
func (r *RedisRepository) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	indexKey := r.executionsKey()
	if filter.TenantID != "" {
		indexKey = r.tenantExecutionsKey(filter.TenantID)
	}
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.ListExecutions", err)
	}

	matched := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetExecution(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				// Row expired or deleted out of band; heal the index.
				r.client.SRem(ctx, indexKey, id)
				continue
			}
			return nil, err
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if !filter.IncludeDeleted && record.DeletedAt != nil {
			continue
		}
		matched = append(matched, record)
	}

	sortExecutionsDesc(matched)
	return paginate(matched, filter.Offset, normalizeLimit(filter.Limit)), nil
}

// UpdateExecution replaces an existing row.
func (r *RedisRepository) UpdateExecution(ctx context.Context, record *ExecutionRecord) error {
	if record == nil || record.ExecutionID == "" {
		return core.NewRepositoryError("redis.UpdateExecution", fmt.Errorf("execution id is required"))
	}
	existing, err := r.GetExecution(ctx, record.ExecutionID)
	if err != nil {
		return err
	}

	stored := *record
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(&stored)
	if err != nil {
		return core.NewRepositoryError("redis.UpdateExecution", err)
	}
	if err := r.client.Set(ctx, r.executionKey(stored.ExecutionID), data, 0).Err(); err != nil {
		return core.NewRepositoryError("redis.UpdateExecution", err)
	}
	return nil
}

// SoftDeleteExecution clears the payload fields, stamps DeletedAt, and
// records the deletion time for the retention sweeper.
func (r *RedisRepository) SoftDeleteExecution(ctx context.Context, executionID string) error {
	record, err := r.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	now := time.Now()
	record.Context = nil
	record.Metadata = nil
	record.Outputs = nil
	record.DeletedAt = &now
	record.UpdatedAt = now

	data, err := json.Marshal(record)
	if err != nil {
		return core.NewRepositoryError("redis.SoftDeleteExecution", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.executionKey(executionID), data, 0)
	pipe.ZAdd(ctx, r.deletedKey(), &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: executionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.SoftDeleteExecution", err)
	}
	return nil
}

// HardDeleteExecution removes the execution, its events, and its
// escalations in one transaction.
func (r *RedisRepository) HardDeleteExecution(ctx context.Context, executionID string) error {
	record, err := r.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	escalationIDs, err := r.client.SMembers(ctx, r.executionEscalationsKey(executionID)).Result()
	if err != nil {
		return core.NewRepositoryError("redis.HardDeleteExecution", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.executionKey(executionID))
	pipe.Del(ctx, r.eventsKey(executionID))
	pipe.Del(ctx, r.executionEscalationsKey(executionID))
	pipe.SRem(ctx, r.executionsKey(), executionID)
	pipe.SRem(ctx, r.tenantExecutionsKey(record.TenantID), executionID)
	pipe.ZRem(ctx, r.deletedKey(), executionID)
	for _, escalationID := range escalationIDs {
		pipe.Del(ctx, r.escalationKey(escalationID))
		pipe.SRem(ctx, r.tenantEscalationsKey(record.TenantID), escalationID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.HardDeleteExecution", err)
	}
	return nil
}

// AppendEvent appends one entry to the execution's event list. RPUSH
// keeps the list chronological as long as events arrive in order, which
// the single-writer runtime guarantees per execution.
func (r *RedisRepository) AppendEvent(ctx context.Context, event *ExecutionEvent) error {
	if event == nil || event.ExecutionID == "" {
		return core.NewRepositoryError("redis.AppendEvent", fmt.Errorf("execution id is required"))
	}
	stored := *event
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = time.Now()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return core.NewRepositoryError("redis.AppendEvent", err)
	}
	if err := r.client.RPush(ctx, r.eventsKey(event.ExecutionID), data).Err(); err != nil {
		return core.NewRepositoryError("redis.AppendEvent", err)
	}
	return nil
}

// ListEvents returns the event log in chronological order.
func (r *RedisRepository) ListEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error) {
	entries, err := r.client.LRange(ctx, r.eventsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.ListEvents", err)
	}
	out := make([]*ExecutionEvent, 0, len(entries))
	for _, entry := range entries {
		var event ExecutionEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			return nil, core.NewRepositoryError("redis.ListEvents", err)
		}
		out = append(out, &event)
	}
	return out, nil
}

// InsertAudit stores one audit record.
func (r *RedisRepository) InsertAudit(ctx context.Context, record *AuditRecord) error {
	return r.InsertAuditBatch(ctx, []*AuditRecord{record})
}

// InsertAuditBatch stores audit records in one pipeline. LPUSH keeps the
// newest record at the head, matching the query order.
func (r *RedisRepository) InsertAuditBatch(ctx context.Context, records []*AuditRecord) error {
	pipe := r.client.TxPipeline()
	for _, record := range records {
		if record == nil || record.TenantID == "" {
			return core.NewRepositoryError("redis.InsertAuditBatch", fmt.Errorf("tenant id is required"))
		}
		stored := *record
		if stored.EventTime.IsZero() {
			stored.EventTime = time.Now()
		}
		data, err := json.Marshal(&stored)
		if err != nil {
			return core.NewRepositoryError("redis.InsertAuditBatch", err)
		}
		pipe.LPush(ctx, r.auditKey(stored.TenantID), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.InsertAuditBatch", err)
	}
	return nil
}

// QueryAudit scans the tenant's audit list newest-first, applying the
// field filters and pagination.
func (r *RedisRepository) QueryAudit(ctx context.Context, query AuditQuery) ([]*AuditRecord, error) {
	entries, err := r.client.LRange(ctx, r.auditKey(query.TenantID), 0, -1).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.QueryAudit", err)
	}

	limit := normalizeLimit(query.Limit)
	skipped := 0
	out := make([]*AuditRecord, 0, limit)
	for _, entry := range entries {
		var record AuditRecord
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, core.NewRepositoryError("redis.QueryAudit", err)
		}
		if !matchesAudit(&record, query) {
			continue
		}
		if skipped < query.Offset {
			skipped++
			continue
		}
		out = append(out, &record)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CreateEscalation stores an escalation row and indexes it by tenant and
// execution.
func (r *RedisRepository) CreateEscalation(ctx context.Context, record *escalation.Record) error {
	if record == nil || record.ID == "" {
		return core.NewRepositoryError("redis.CreateEscalation", fmt.Errorf("escalation id is required"))
	}
	data, err := json.Marshal(record)
	if err != nil {
		return core.NewRepositoryError("redis.CreateEscalation", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.escalationKey(record.ID), data, 0)
	if !record.Status.IsTerminal() {
		pipe.SAdd(ctx, r.tenantEscalationsKey(record.TenantID), record.ID)
	}
	if record.ExecutionID != "" {
		pipe.SAdd(ctx, r.executionEscalationsKey(record.ExecutionID), record.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.CreateEscalation", err)
	}
	return nil
}

// GetEscalation loads an escalation row.
func (r *RedisRepository) GetEscalation(ctx context.Context, escalationID string) (*escalation.Record, error) {
	data, err := r.client.Get(ctx, r.escalationKey(escalationID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("escalation %s: %w", escalationID, core.ErrEscalationNotFound)
	}
	if err != nil {
		return nil, core.NewRepositoryError("redis.GetEscalation", err)
	}
	var record escalation.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, core.NewRepositoryError("redis.GetEscalation", err)
	}
	return &record, nil
}

// UpdateEscalation replaces an escalation row, maintaining the active
// index as the record moves to a terminal state.
func (r *RedisRepository) UpdateEscalation(ctx context.Context, record *escalation.Record) error {
	if record == nil || record.ID == "" {
		return core.NewRepositoryError("redis.UpdateEscalation", fmt.Errorf("escalation id is required"))
	}
	if _, err := r.GetEscalation(ctx, record.ID); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return core.NewRepositoryError("redis.UpdateEscalation", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.escalationKey(record.ID), data, 0)
	if record.Status.IsTerminal() {
		pipe.SRem(ctx, r.tenantEscalationsKey(record.TenantID), record.ID)
	} else {
		pipe.SAdd(ctx, r.tenantEscalationsKey(record.TenantID), record.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewRepositoryError("redis.UpdateEscalation", err)
	}
	return nil
}

// ListActiveEscalations returns the tenant's non-terminal escalations,
// newest first.
func (r *RedisRepository) ListActiveEscalations(ctx context.Context, tenantID string) ([]*escalation.Record, error) {
	indexKey := r.tenantEscalationsKey(tenantID)
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.ListActiveEscalations", err)
	}

	out := make([]*escalation.Record, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetEscalation(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				r.client.SRem(ctx, indexKey, id)
				continue
			}
			return nil, err
		}
		if record.Status.IsTerminal() {
			r.client.SRem(ctx, indexKey, id)
			continue
		}
		out = append(out, record)
	}

	sortEscalationsDesc(out)
	return out, nil
}

// ListDeletedBefore returns ids of executions soft-deleted before cutoff,
// straight from the deletion-time sorted set.
func (r *RedisRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.deletedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.ListDeletedBefore", err)
	}
	return ids, nil
}

// Statistics aggregates the tenant's execution rows since the cutoff.
func (r *RedisRepository) Statistics(ctx context.Context, tenantID string, since time.Time) (*ExecutionStats, error) {
	ids, err := r.client.SMembers(ctx, r.tenantExecutionsKey(tenantID)).Result()
	if err != nil {
		return nil, core.NewRepositoryError("redis.Statistics", err)
	}

	records := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := r.GetExecution(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return aggregateStats(records, since), nil
}

// Close closes the Redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func sortExecutionsDesc(records []*ExecutionRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func sortEscalationsDesc(records []*escalation.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

var _ Repository = (*RedisRepository)(nil)
