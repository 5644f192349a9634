// Package storage persists execution history, events, audit records, and
// escalations behind the Repository contract. The in-memory runtime state
// stays authoritative; the repository exists for history and recovery,
// never for cross-process coordination.
//
// Two implementations ship: MemoryRepository for tests and single-process
// use, and RedisRepository for production. BreakerRepository wraps either
// in a circuit breaker so a failing store degrades to fast, distinguishable
// errors instead of piling up timeouts.
package storage

import (
	"context"
	"time"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
)

// Pagination bounds shared by all listing operations.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 1000
)

// normalizeLimit applies the pagination defaults and ceiling.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// ExecutionRecord is the persisted row for one execution. Soft deletion
// clears Context, Metadata, and Outputs and stamps DeletedAt; the
// structural fields stay for audit-trail continuity.
type ExecutionRecord struct {
	ExecutionID string                 `json:"execution_id"`
	TenantID    string                 `json:"tenant_id"`
	IntentID    string                 `json:"intent_id,omitempty"`
	Handler     string                 `json:"handler,omitempty"`
	Status      core.ExecutionStatus   `json:"status"`
	Context     *core.ExecutionContext `json:"context,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Outputs     map[string]interface{} `json:"outputs,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Retries     int                    `json:"retries"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	DeletedAt   *time.Time             `json:"deleted_at,omitempty"`
}

// ExecutionFilter selects execution rows for listing. A zero filter
// returns the newest non-deleted rows across all tenants.
type ExecutionFilter struct {
	TenantID       string
	Status         core.ExecutionStatus
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// ExecutionEvent is one entry in an execution's chronological event log.
type ExecutionEvent struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

// AuditRecord is one governance event: a denial, an escalation, a
// termination, an admin override.
type AuditRecord struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	EventType   string                 `json:"event_type"`
	Severity    string                 `json:"severity,omitempty"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	IntentID    string                 `json:"intent_id,omitempty"`
	Actor       string                 `json:"actor,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	EventTime   time.Time              `json:"event_time"`
}

// AuditQuery filters audit records. TenantID is required; everything
// else narrows. Results are newest-first by EventTime.
type AuditQuery struct {
	TenantID    string
	EventType   string
	Severity    string
	ExecutionID string
	IntentID    string
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// ExecutionStats is the aggregation over a tenant's execution history.
type ExecutionStats struct {
	Total         int     `json:"total"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	Running       int     `json:"running"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	TotalRetries  int     `json:"total_retries"`
}

// Repository is the persistence contract the runtime consumes. Lookups
// for absent rows return core.ErrExecutionNotFound or
// core.ErrEscalationNotFound; every other failure is a driver error the
// caller treats as a RepositoryFailure. The runtime never retries; wrap
// the repository in a BreakerRepository to decide fail-fast behavior.
type Repository interface {
	// Execution rows.
	CreateExecution(ctx context.Context, record *ExecutionRecord) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	UpdateExecution(ctx context.Context, record *ExecutionRecord) error
	SoftDeleteExecution(ctx context.Context, executionID string) error
	HardDeleteExecution(ctx context.Context, executionID string) error

	// Execution events, chronological by OccurredAt.
	AppendEvent(ctx context.Context, event *ExecutionEvent) error
	ListEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error)

	// Audit trail.
	InsertAudit(ctx context.Context, record *AuditRecord) error
	InsertAuditBatch(ctx context.Context, records []*AuditRecord) error
	QueryAudit(ctx context.Context, query AuditQuery) ([]*AuditRecord, error)

	// Escalation rows.
	CreateEscalation(ctx context.Context, record *escalation.Record) error
	GetEscalation(ctx context.Context, escalationID string) (*escalation.Record, error)
	UpdateEscalation(ctx context.Context, record *escalation.Record) error
	ListActiveEscalations(ctx context.Context, tenantID string) ([]*escalation.Record, error)

	// Retention support: ids of executions soft-deleted before the cutoff.
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)

	// Statistics aggregates a tenant's executions since the given time.
	Statistics(ctx context.Context, tenantID string, since time.Time) (*ExecutionStats, error)

	Close() error
}

// aggregateStats folds execution rows into an ExecutionStats. Shared by
// the implementations so the aggregation semantics cannot drift.
func aggregateStats(records []*ExecutionRecord, since time.Time) *ExecutionStats {
	stats := &ExecutionStats{}
	var durationTotal int64
	var durationCount int

	for _, record := range records {
		if !since.IsZero() && record.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.TotalRetries += record.Retries
		switch record.Status {
		case core.StatusCompleted:
			stats.Completed++
		case core.StatusFailed, core.StatusTimeout, core.StatusTerminated:
			stats.Failed++
		case core.StatusPending, core.StatusRunning:
			stats.Running++
		}
		if record.DurationMs > 0 {
			durationTotal += record.DurationMs
			durationCount++
		}
	}
	if durationCount > 0 {
		stats.AvgDurationMs = float64(durationTotal) / float64(durationCount)
	}
	return stats
}

// matchesAudit applies an AuditQuery's field filters to one record.
func matchesAudit(record *AuditRecord, query AuditQuery) bool {
	if query.TenantID != "" && record.TenantID != query.TenantID {
		return false
	}
	if query.EventType != "" && record.EventType != query.EventType {
		return false
	}
	if query.Severity != "" && record.Severity != query.Severity {
		return false
	}
	if query.ExecutionID != "" && record.ExecutionID != query.ExecutionID {
		return false
	}
	if query.IntentID != "" && record.IntentID != query.IntentID {
		return false
	}
	if !query.From.IsZero() && record.EventTime.Before(query.From) {
		return false
	}
	if !query.To.IsZero() && record.EventTime.After(query.To) {
		return false
	}
	return true
}
