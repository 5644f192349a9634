package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
)

// MemoryRepository implements Repository in process memory. It is the
// authoritative implementation for tests and works for single-process
// deployments that can afford to lose history on restart.
//
// Values are deep-copied through JSON on the way in and out, so callers
// and the store never share mutable state. Custom escalation predicates
// do not survive the copy; they are code, not data.
type MemoryRepository struct {
	mu          sync.Mutex
	executions  map[string]*ExecutionRecord
	events      map[string][]*ExecutionEvent
	audits      map[string][]*AuditRecord
	escalations map[string]*escalation.Record
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		executions:  make(map[string]*ExecutionRecord),
		events:      make(map[string][]*ExecutionEvent),
		audits:      make(map[string][]*AuditRecord),
		escalations: make(map[string]*escalation.Record),
	}
}

func deepCopy[T any](in *T) (*T, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, core.NewRepositoryError("memory.copy", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, core.NewRepositoryError("memory.copy", err)
	}
	return out, nil
}

// CreateExecution stores a new execution row.
func (r *MemoryRepository) CreateExecution(_ context.Context, record *ExecutionRecord) error {
	if record == nil || record.ExecutionID == "" {
		return core.NewRepositoryError("memory.CreateExecution", fmt.Errorf("execution id is required"))
	}
	stored, err := deepCopy(record)
	if err != nil {
		return err
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = stored.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executions[record.ExecutionID]; exists {
		return core.NewRepositoryError("memory.CreateExecution",
			fmt.Errorf("execution %s already exists", record.ExecutionID))
	}
	r.executions[record.ExecutionID] = stored
	return nil
}

// GetExecution returns a copy of the execution row.
func (r *MemoryRepository) GetExecution(_ context.Context, executionID string) (*ExecutionRecord, error) {
	r.mu.Lock()
	record, ok := r.executions[executionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, core.ErrExecutionNotFound)
	}
	return deepCopy(record)
}

// ListExecutions returns rows matching the filter, newest first.
func (r *MemoryRepository) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	r.mu.Lock()
	matched := make([]*ExecutionRecord, 0, len(r.executions))
	for _, record := range r.executions {
		if filter.TenantID != "" && record.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if !filter.IncludeDeleted && record.DeletedAt != nil {
			continue
		}
		matched = append(matched, record)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	matched = paginate(matched, filter.Offset, normalizeLimit(filter.Limit))

	out := make([]*ExecutionRecord, 0, len(matched))
	for _, record := range matched {
		copied, err := deepCopy(record)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

// UpdateExecution replaces an existing row and stamps UpdatedAt.
func (r *MemoryRepository) UpdateExecution(_ context.Context, record *ExecutionRecord) error {
	if record == nil || record.ExecutionID == "" {
		return core.NewRepositoryError("memory.UpdateExecution", fmt.Errorf("execution id is required"))
	}
	stored, err := deepCopy(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.executions[record.ExecutionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", record.ExecutionID, core.ErrExecutionNotFound)
	}
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	r.executions[record.ExecutionID] = stored
	return nil
}

// SoftDeleteExecution clears the row's context, metadata, and outputs and
// stamps DeletedAt. Structural fields stay for audit continuity.
func (r *MemoryRepository) SoftDeleteExecution(_ context.Context, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, core.ErrExecutionNotFound)
	}
	now := time.Now()
	record.Context = nil
	record.Metadata = nil
	record.Outputs = nil
	record.DeletedAt = &now
	record.UpdatedAt = now
	return nil
}

// HardDeleteExecution removes the execution, its events, and its
// escalations together.
func (r *MemoryRepository) HardDeleteExecution(_ context.Context, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[executionID]; !ok {
		return fmt.Errorf("execution %s: %w", executionID, core.ErrExecutionNotFound)
	}
	delete(r.executions, executionID)
	delete(r.events, executionID)
	for id, record := range r.escalations {
		if record.ExecutionID == executionID {
			delete(r.escalations, id)
		}
	}
	return nil
}

// AppendEvent adds one entry to an execution's event log.
func (r *MemoryRepository) AppendEvent(_ context.Context, event *ExecutionEvent) error {
	if event == nil || event.ExecutionID == "" {
		return core.NewRepositoryError("memory.AppendEvent", fmt.Errorf("execution id is required"))
	}
	stored, err := deepCopy(event)
	if err != nil {
		return err
	}
	if stored.OccurredAt.IsZero() {
		stored.OccurredAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ExecutionID] = append(r.events[event.ExecutionID], stored)
	return nil
}

// ListEvents returns an execution's events in chronological order.
func (r *MemoryRepository) ListEvents(_ context.Context, executionID string) ([]*ExecutionEvent, error) {
	r.mu.Lock()
	events := r.events[executionID]
	out := make([]*ExecutionEvent, 0, len(events))
	for _, event := range events {
		copied, err := deepCopy(event)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		out = append(out, copied)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// InsertAudit stores one audit record.
func (r *MemoryRepository) InsertAudit(ctx context.Context, record *AuditRecord) error {
	return r.InsertAuditBatch(ctx, []*AuditRecord{record})
}

// InsertAuditBatch stores audit records together.
func (r *MemoryRepository) InsertAuditBatch(_ context.Context, records []*AuditRecord) error {
	stored := make([]*AuditRecord, 0, len(records))
	for _, record := range records {
		if record == nil || record.TenantID == "" {
			return core.NewRepositoryError("memory.InsertAuditBatch", fmt.Errorf("tenant id is required"))
		}
		copied, err := deepCopy(record)
		if err != nil {
			return err
		}
		if copied.EventTime.IsZero() {
			copied.EventTime = time.Now()
		}
		stored = append(stored, copied)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range stored {
		r.audits[record.TenantID] = append(r.audits[record.TenantID], record)
	}
	return nil
}

// QueryAudit returns matching audit records, newest first.
func (r *MemoryRepository) QueryAudit(_ context.Context, query AuditQuery) ([]*AuditRecord, error) {
	r.mu.Lock()
	var matched []*AuditRecord
	for _, record := range r.audits[query.TenantID] {
		if matchesAudit(record, query) {
			matched = append(matched, record)
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].EventTime.After(matched[j].EventTime)
	})
	matched = paginate(matched, query.Offset, normalizeLimit(query.Limit))

	out := make([]*AuditRecord, 0, len(matched))
	for _, record := range matched {
		copied, err := deepCopy(record)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

// CreateEscalation stores a new escalation row.
func (r *MemoryRepository) CreateEscalation(_ context.Context, record *escalation.Record) error {
	if record == nil || record.ID == "" {
		return core.NewRepositoryError("memory.CreateEscalation", fmt.Errorf("escalation id is required"))
	}
	stored, err := deepCopy(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations[record.ID] = stored
	return nil
}

// GetEscalation returns a copy of the escalation row.
func (r *MemoryRepository) GetEscalation(_ context.Context, escalationID string) (*escalation.Record, error) {
	r.mu.Lock()
	record, ok := r.escalations[escalationID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("escalation %s: %w", escalationID, core.ErrEscalationNotFound)
	}
	return deepCopy(record)
}

// UpdateEscalation replaces an existing escalation row.
func (r *MemoryRepository) UpdateEscalation(_ context.Context, record *escalation.Record) error {
	if record == nil || record.ID == "" {
		return core.NewRepositoryError("memory.UpdateEscalation", fmt.Errorf("escalation id is required"))
	}
	stored, err := deepCopy(record)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.escalations[record.ID]; !ok {
		return fmt.Errorf("escalation %s: %w", record.ID, core.ErrEscalationNotFound)
	}
	r.escalations[record.ID] = stored
	return nil
}

// ListActiveEscalations returns a tenant's pending and acknowledged
// escalations, newest first.
func (r *MemoryRepository) ListActiveEscalations(_ context.Context, tenantID string) ([]*escalation.Record, error) {
	r.mu.Lock()
	var matched []*escalation.Record
	for _, record := range r.escalations {
		if record.TenantID != tenantID || record.Status.IsTerminal() {
			continue
		}
		matched = append(matched, record)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	out := make([]*escalation.Record, 0, len(matched))
	for _, record := range matched {
		copied, err := deepCopy(record)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

// ListDeletedBefore returns ids of executions soft-deleted before cutoff.
func (r *MemoryRepository) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for id, record := range r.executions {
		if record.DeletedAt != nil && record.DeletedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Statistics aggregates a tenant's executions created since the cutoff.
func (r *MemoryRepository) Statistics(_ context.Context, tenantID string, since time.Time) (*ExecutionStats, error) {
	r.mu.Lock()
	var records []*ExecutionRecord
	for _, record := range r.executions {
		if record.TenantID == tenantID {
			records = append(records, record)
		}
	}
	r.mu.Unlock()

	return aggregateStats(records, since), nil
}

// Close is a no-op for the in-memory store.
func (r *MemoryRepository) Close() error { return nil }

// paginate slices a sorted result set by offset and limit.
func paginate[T any](in []*T, offset, limit int) []*T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(in) {
		return nil
	}
	end := len(in)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return in[offset:end]
}

var _ Repository = (*MemoryRepository)(nil)
