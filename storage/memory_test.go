package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
)

func executionRecord(id, tenantID string, status core.ExecutionStatus) *ExecutionRecord {
	return &ExecutionRecord{
		ExecutionID: id,
		TenantID:    tenantID,
		IntentID:    "intent-1",
		Handler:     "default",
		Status:      status,
		Context: &core.ExecutionContext{
			ExecutionID: id,
			TenantID:    tenantID,
			Intent:      &core.Intent{ID: "intent-1", TenantID: tenantID},
			Decision:    &core.Decision{IntentID: "intent-1", Action: core.ActionAllow},
			Limits:      core.DefaultResourceLimits(),
		},
		Metadata:  map[string]interface{}{"origin": "test"},
		StartedAt: time.Now().UTC(),
	}
}

func escalationRecord(id, executionID, tenantID string) *escalation.Record {
	return &escalation.Record{
		ID:          id,
		ExecutionID: executionID,
		TenantID:    tenantID,
		IntentID:    "intent-1",
		Rule: escalation.Rule{
			ID:        "rule-1",
			Name:      "memory overshoot",
			Condition: escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
			Timeout:   "PT30M",
			Priority:  escalation.PriorityHigh,
		},
		Reason:      "memory limit breached",
		Priority:    escalation.PriorityHigh,
		Status:      escalation.RecordPending,
		EscalatedTo: "ops",
		TimeoutAt:   time.Now().Add(30 * time.Minute).UTC(),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestExecutionCRUD(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record := executionRecord("exec-1", "tenant-1", core.StatusPending)
	require.NoError(t, repo.CreateExecution(ctx, record))

	// Duplicate creation fails.
	err := repo.CreateExecution(ctx, record)
	require.Error(t, err)
	assert.True(t, core.IsRepositoryError(err))

	loaded, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", loaded.TenantID)
	assert.Equal(t, core.StatusPending, loaded.Status)
	assert.NotNil(t, loaded.Context)
	assert.False(t, loaded.CreatedAt.IsZero())

	// The stored copy must not share state with the caller's record.
	record.Metadata["origin"] = "mutated"
	loaded, err = repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "test", loaded.Metadata["origin"])

	loaded.Status = core.StatusCompleted
	now := time.Now().UTC()
	loaded.CompletedAt = &now
	loaded.DurationMs = 1234
	require.NoError(t, repo.UpdateExecution(ctx, loaded))

	updated, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, updated.Status)
	assert.Equal(t, int64(1234), updated.DurationMs)

	_, err = repo.GetExecution(ctx, "exec-missing")
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)

	err = repo.UpdateExecution(ctx, executionRecord("exec-missing", "tenant-1", core.StatusRunning))
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)
}

func TestListExecutionsOrderingAndPagination(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := executionRecord(fmt.Sprintf("exec-%d", i), "tenant-1", core.StatusCompleted)
		record.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateExecution(ctx, record))
	}
	require.NoError(t, repo.CreateExecution(ctx, executionRecord("exec-other", "tenant-2", core.StatusRunning)))

	listed, err := repo.ListExecutions(ctx, ExecutionFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, listed, 5)
	// Newest first.
	assert.Equal(t, "exec-4", listed[0].ExecutionID)
	assert.Equal(t, "exec-0", listed[4].ExecutionID)

	page, err := repo.ListExecutions(ctx, ExecutionFilter{TenantID: "tenant-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "exec-2", page[0].ExecutionID)

	byStatus, err := repo.ListExecutions(ctx, ExecutionFilter{Status: core.StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "exec-other", byStatus[0].ExecutionID)
}

func TestSoftDeleteClearsPayload(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record := executionRecord("exec-1", "tenant-1", core.StatusCompleted)
	record.Outputs = map[string]interface{}{"result": 42}
	require.NoError(t, repo.CreateExecution(ctx, record))
	require.NoError(t, repo.SoftDeleteExecution(ctx, "exec-1"))

	loaded, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Nil(t, loaded.Context)
	assert.Nil(t, loaded.Metadata)
	assert.Nil(t, loaded.Outputs)
	require.NotNil(t, loaded.DeletedAt)
	// Structural fields survive for audit continuity.
	assert.Equal(t, "tenant-1", loaded.TenantID)
	assert.Equal(t, core.StatusCompleted, loaded.Status)

	// Soft-deleted rows are excluded from listings by default.
	listed, err := repo.ListExecutions(ctx, ExecutionFilter{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Empty(t, listed)

	listed, err = repo.ListExecutions(ctx, ExecutionFilter{TenantID: "tenant-1", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestHardDeleteRemovesEventsAndEscalations(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateExecution(ctx, executionRecord("exec-1", "tenant-1", core.StatusFailed)))
	require.NoError(t, repo.AppendEvent(ctx, &ExecutionEvent{ID: "ev-1", ExecutionID: "exec-1", Type: "started"}))
	require.NoError(t, repo.CreateEscalation(ctx, escalationRecord("esc-1", "exec-1", "tenant-1")))

	require.NoError(t, repo.HardDeleteExecution(ctx, "exec-1"))

	_, err := repo.GetExecution(ctx, "exec-1")
	assert.ErrorIs(t, err, core.ErrExecutionNotFound)
	events, err := repo.ListEvents(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = repo.GetEscalation(ctx, "esc-1")
	assert.ErrorIs(t, err, core.ErrEscalationNotFound)
}

func TestEventsChronological(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Append out of order; listing must sort by occurrence.
	require.NoError(t, repo.AppendEvent(ctx, &ExecutionEvent{
		ID: "ev-2", ExecutionID: "exec-1", Type: "running", OccurredAt: base.Add(time.Second)}))
	require.NoError(t, repo.AppendEvent(ctx, &ExecutionEvent{
		ID: "ev-1", ExecutionID: "exec-1", Type: "started", OccurredAt: base}))
	require.NoError(t, repo.AppendEvent(ctx, &ExecutionEvent{
		ID: "ev-3", ExecutionID: "exec-1", Type: "completed", OccurredAt: base.Add(2 * time.Second)}))

	events, err := repo.ListEvents(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "started", events[0].Type)
	assert.Equal(t, "running", events[1].Type)
	assert.Equal(t, "completed", events[2].Type)
}

func TestAuditQueryFiltersAndClamps(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	batch := make([]*AuditRecord, 0, 10)
	for i := 0; i < 10; i++ {
		severity := "info"
		if i%2 == 0 {
			severity = "warning"
		}
		batch = append(batch, &AuditRecord{
			ID:          fmt.Sprintf("aud-%d", i),
			TenantID:    "tenant-1",
			EventType:   "admission_denied",
			Severity:    severity,
			ExecutionID: fmt.Sprintf("exec-%d", i),
			EventTime:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, repo.InsertAuditBatch(ctx, batch))
	require.NoError(t, repo.InsertAudit(ctx, &AuditRecord{
		ID: "aud-other", TenantID: "tenant-2", EventType: "escalation_created", EventTime: base}))

	all, err := repo.QueryAudit(ctx, AuditQuery{TenantID: "tenant-1"})
	require.NoError(t, err)
	require.Len(t, all, 10)
	// Newest first.
	assert.Equal(t, "aud-9", all[0].ID)

	warnings, err := repo.QueryAudit(ctx, AuditQuery{TenantID: "tenant-1", Severity: "warning"})
	require.NoError(t, err)
	assert.Len(t, warnings, 5)

	windowed, err := repo.QueryAudit(ctx, AuditQuery{
		TenantID: "tenant-1",
		From:     base.Add(2 * time.Minute),
		To:       base.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.Len(t, windowed, 4)

	byExecution, err := repo.QueryAudit(ctx, AuditQuery{TenantID: "tenant-1", ExecutionID: "exec-3"})
	require.NoError(t, err)
	require.Len(t, byExecution, 1)
	assert.Equal(t, "aud-3", byExecution[0].ID)

	paged, err := repo.QueryAudit(ctx, AuditQuery{TenantID: "tenant-1", Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, paged, 3)
	assert.Equal(t, "aud-6", paged[0].ID)
}

func TestEscalationRows(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	record := escalationRecord("esc-1", "exec-1", "tenant-1")
	require.NoError(t, repo.CreateEscalation(ctx, record))
	require.NoError(t, repo.CreateEscalation(ctx, escalationRecord("esc-2", "exec-2", "tenant-1")))

	loaded, err := repo.GetEscalation(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, escalation.RecordPending, loaded.Status)
	// The condition survives the round trip through storage.
	condition, ok := loaded.Rule.Condition.(escalation.ResourceExceeded)
	require.True(t, ok)
	assert.Equal(t, "memoryMb", condition.Resource)

	active, err := repo.ListActiveEscalations(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	now := time.Now().UTC()
	loaded.Status = escalation.RecordResolved
	loaded.ResolvedBy = "alice"
	loaded.ResolvedAt = &now
	require.NoError(t, repo.UpdateEscalation(ctx, loaded))

	active, err = repo.ListActiveEscalations(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "esc-2", active[0].ID)

	_, err = repo.GetEscalation(ctx, "esc-missing")
	assert.ErrorIs(t, err, core.ErrEscalationNotFound)
}

func TestListDeletedBefore(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateExecution(ctx, executionRecord("exec-old", "tenant-1", core.StatusCompleted)))
	require.NoError(t, repo.CreateExecution(ctx, executionRecord("exec-live", "tenant-1", core.StatusRunning)))
	require.NoError(t, repo.SoftDeleteExecution(ctx, "exec-old"))

	ids, err := repo.ListDeletedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-old"}, ids)

	ids, err = repo.ListDeletedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStatistics(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, status core.ExecutionStatus, durationMs int64, retries int, createdAt time.Time) {
		record := executionRecord(id, "tenant-1", status)
		record.DurationMs = durationMs
		record.Retries = retries
		record.CreatedAt = createdAt
		require.NoError(t, repo.CreateExecution(ctx, record))
	}
	mk("exec-1", core.StatusCompleted, 100, 0, base)
	mk("exec-2", core.StatusCompleted, 300, 1, base.Add(time.Minute))
	mk("exec-3", core.StatusFailed, 0, 2, base.Add(2*time.Minute))
	mk("exec-4", core.StatusRunning, 0, 0, base.Add(3*time.Minute))
	mk("exec-old", core.StatusCompleted, 500, 5, base.Add(-time.Hour))

	stats, err := repo.Statistics(ctx, "tenant-1", base)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 3, stats.TotalRetries)
	assert.InDelta(t, 200.0, stats.AvgDurationMs, 0.001)

	empty, err := repo.Statistics(ctx, "tenant-unknown", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
}
