package cognigate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
	"github.com/cognigate/cognigate/ratelimit"
	"github.com/cognigate/cognigate/storage"
)

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *storage.MemoryRepository) {
	t.Helper()

	repo := storage.NewMemoryRepository()
	config := core.DefaultConfig()
	config.Storage.CircuitBreaker = false

	opts = append([]Option{WithRepository(repo)}, opts...)
	runtime, err := New(config, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = runtime.Shutdown(context.Background()) })
	return runtime, repo
}

func testIntent(tenantID string) (*core.Intent, *core.Decision) {
	intent := &core.Intent{ID: "intent-1", TenantID: tenantID}
	decision := &core.Decision{IntentID: "intent-1", Action: core.ActionAllow}
	return intent, decision
}

func beginOne(t *testing.T, runtime *Runtime, tenantID string) (*core.ExecutionContext, *core.CancelSignal) {
	t.Helper()
	intent, decision := testIntent(tenantID)
	cancel := core.NewCancelSignal()
	ectx, err := runtime.BeginExecution(context.Background(), BeginParams{
		Intent:   intent,
		Decision: decision,
		Tier:     TierFree,
		Cancel:   cancel,
	})
	if err != nil {
		t.Fatalf("BeginExecution: %v", err)
	}
	return ectx, cancel
}

func TestAdmitRequestConsumesSlots(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()

	// Free tier burst limit is 5.
	for i := 0; i < 5; i++ {
		adm, err := runtime.AdmitRequest(ctx, "tenant-1", TierFree)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !adm.Allowed {
			t.Fatalf("request %d denied: %s", i, adm.Reason)
		}
	}

	adm, err := runtime.AdmitRequest(ctx, "tenant-1", TierFree)
	if err == nil || !core.IsAdmissionDenied(err) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	if adm.Reason != ratelimit.ReasonBurstExceeded {
		t.Errorf("reason = %q, want %q", adm.Reason, ratelimit.ReasonBurstExceeded)
	}

	// Denials leave an audit trail.
	audits, err := runtime.AuditTrail(ctx, storage.AuditQuery{TenantID: "tenant-1", EventType: AuditAdmissionDenied})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audits))
	}
}

func TestBeginAndFinishExecution(t *testing.T) {
	runtime, repo := newTestRuntime(t)
	ctx := context.Background()

	ectx, _ := beginOne(t, runtime, "tenant-1")
	if ectx.TenantID != "tenant-1" {
		t.Errorf("tenant = %q, want tenant-1", ectx.TenantID)
	}
	if got := runtime.limiter.ConcurrentCount("tenant-1"); got != 1 {
		t.Errorf("concurrent = %d, want 1", got)
	}

	// The begin path persists a pending row and a tracked event.
	record, err := repo.GetExecution(ctx, ectx.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if record.Status != core.StatusPending {
		t.Errorf("status = %q, want pending", record.Status)
	}

	if err := runtime.FinishExecution(ctx, ectx.ExecutionID, core.StatusCompleted, map[string]interface{}{"result": "ok"}, nil); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	if got := runtime.limiter.ConcurrentCount("tenant-1"); got != 0 {
		t.Errorf("concurrent after finish = %d, want 0", got)
	}

	record, err = repo.GetExecution(ctx, ectx.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if record.Status != core.StatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	events, err := repo.ListEvents(ctx, ectx.ExecutionID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[0].Type != "tracked" || events[1].Type != "finished" {
		t.Errorf("unexpected event log: %+v", events)
	}
}

func TestBeginExecutionRejectsBadDecision(t *testing.T) {
	runtime, _ := newTestRuntime(t)

	intent, decision := testIntent("tenant-1")
	decision.Action = "deny"
	_, err := runtime.BeginExecution(context.Background(), BeginParams{
		Intent:   intent,
		Decision: decision,
		Cancel:   core.NewCancelSignal(),
	})
	if err == nil || !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// A rejected build never consumes a concurrent slot.
	if got := runtime.limiter.ConcurrentCount("tenant-1"); got != 0 {
		t.Errorf("concurrent = %d, want 0", got)
	}
}

func TestFinishExecutionUntracked(t *testing.T) {
	runtime, _ := newTestRuntime(t)

	err := runtime.FinishExecution(context.Background(), "exec-ghost", core.StatusCompleted, nil, nil)
	if err == nil || !core.IsNotTracked(err) {
		t.Fatalf("expected not-tracked error, got %v", err)
	}
}

func TestFinishExecutionRequiresTerminalStatus(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ectx, _ := beginOne(t, runtime, "tenant-1")

	err := runtime.FinishExecution(context.Background(), ectx.ExecutionID, core.StatusRunning, nil, nil)
	if err == nil || !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportUsageEscalates(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-memory",
		Name:       "memory overshoot",
		Condition:  escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
		EscalateTo: "ops",
		Timeout:    "PT30M",
		Priority:   escalation.PriorityHigh,
	}
	runtime, repo := newTestRuntime(t, WithRules(rule))
	ctx := context.Background()

	ectx, _ := beginOne(t, runtime, "tenant-1")

	// Below threshold: silent.
	record, err := runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 100})
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	if record != nil {
		t.Fatalf("unexpected escalation %+v", record)
	}

	record, err = runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 512})
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	if record == nil {
		t.Fatal("expected an escalation")
	}
	if record.Status != escalation.RecordPending || record.Priority != escalation.PriorityHigh {
		t.Errorf("record = %+v", record)
	}

	// The record is persisted and audited.
	if _, err := repo.GetEscalation(ctx, record.ID); err != nil {
		t.Errorf("GetEscalation: %v", err)
	}
	audits, err := runtime.AuditTrail(ctx, storage.AuditQuery{TenantID: "tenant-1", EventType: AuditEscalationCreated})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(audits) != 1 {
		t.Errorf("audit records = %d, want 1", len(audits))
	}

	active := runtime.ActiveEscalations("tenant-1")
	if len(active) != 1 || active[0].ID != record.ID {
		t.Errorf("active = %+v", active)
	}
}

func TestReportViolationCarriesViolation(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-sandbox",
		Name:       "filesystem escape",
		Condition:  escalation.SandboxViolation{ViolationType: "filesystem"},
		EscalateTo: "security",
		Timeout:    "PT1H",
		Priority:   escalation.PriorityCritical,
	}
	runtime, _ := newTestRuntime(t, WithRules(rule))
	ectx, _ := beginOne(t, runtime, "tenant-1")

	record, err := runtime.ReportViolation(context.Background(), ectx.ExecutionID, core.Violation{
		Type:        "filesystem",
		Description: "wrote outside sandbox root",
	})
	if err != nil {
		t.Fatalf("ReportViolation: %v", err)
	}
	if record == nil {
		t.Fatal("expected an escalation")
	}
	if record.Violation == nil || record.Violation.Type != "filesystem" {
		t.Errorf("violation not carried: %+v", record.Violation)
	}
}

func TestReportFailureThreshold(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-failures",
		Name:       "repeated failures",
		Condition:  escalation.ExecutionFailed{ConsecutiveFailures: 3},
		EscalateTo: "ops",
		Timeout:    "PT1H",
		Priority:   escalation.PriorityMedium,
	}
	runtime, _ := newTestRuntime(t, WithRules(rule))
	ctx := context.Background()
	ectx, _ := beginOne(t, runtime, "tenant-1")

	record, err := runtime.ReportFailure(ctx, ectx.ExecutionID, errors.New("handler exploded"), 2)
	if err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}
	if record != nil {
		t.Fatalf("escalated below threshold: %+v", record)
	}

	record, err = runtime.ReportFailure(ctx, ectx.ExecutionID, errors.New("handler exploded"), 3)
	if err != nil {
		t.Fatalf("ReportFailure: %v", err)
	}
	if record == nil {
		t.Fatal("expected an escalation at the threshold")
	}
}

func TestReportForUntrackedExecutionIsSilent(t *testing.T) {
	runtime, _ := newTestRuntime(t)

	record, err := runtime.ReportUsage(context.Background(), "exec-ghost", core.ResourceUsage{MemoryMB: 999})
	if err != nil {
		t.Fatalf("ReportUsage: %v", err)
	}
	if record != nil {
		t.Fatalf("unexpected escalation %+v", record)
	}
}

func TestEscalationLifecycleThroughRuntime(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-memory",
		Name:       "memory overshoot",
		Condition:  escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
		EscalateTo: "ops",
		Timeout:    "PT30M",
		Priority:   escalation.PriorityHigh,
	}
	runtime, repo := newTestRuntime(t, WithRules(rule))
	ctx := context.Background()
	ectx, _ := beginOne(t, runtime, "tenant-1")

	record, err := runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 512})
	if err != nil || record == nil {
		t.Fatalf("ReportUsage: record=%v err=%v", record, err)
	}

	if err := runtime.AcknowledgeEscalation(ctx, record.ID, "alice"); err != nil {
		t.Fatalf("AcknowledgeEscalation: %v", err)
	}
	stored, err := repo.GetEscalation(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if stored.Status != escalation.RecordAcknowledged {
		t.Errorf("persisted status = %q, want acknowledged", stored.Status)
	}

	if err := runtime.ResolveEscalation(ctx, record.ID, "alice", "scaled limits", "bumped tenant tier"); err != nil {
		t.Fatalf("ResolveEscalation: %v", err)
	}
	stored, err = repo.GetEscalation(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if stored.Status != escalation.RecordResolved || stored.ResolvedBy != "alice" {
		t.Errorf("persisted record = %+v", stored)
	}
	if len(runtime.ActiveEscalations("tenant-1")) != 0 {
		t.Error("resolved escalation still active")
	}

	if err := runtime.ResolveEscalation(ctx, record.ID, "bob", "again", ""); !errors.Is(err, core.ErrEscalationNotFound) {
		t.Errorf("second resolve = %v, want escalation-not-found", err)
	}
}

func TestAutoTerminationCancelsExecution(t *testing.T) {
	rule := escalation.Rule{
		ID:                     "rule-memory",
		Name:                   "memory overshoot",
		Condition:              escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
		EscalateTo:             "ops",
		Timeout:                "PT0S",
		Priority:               escalation.PriorityCritical,
		AutoTerminateOnTimeout: true,
	}
	runtime, _ := newTestRuntime(t, WithRules(rule))
	ctx := context.Background()
	ectx, cancel := beginOne(t, runtime, "tenant-1")

	record, err := runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 512})
	if err != nil || record == nil {
		t.Fatalf("ReportUsage: record=%v err=%v", record, err)
	}

	// Zero timeout means the record is already expired; the sweep should
	// expire it and cancel the execution through the tracker.
	expired := runtime.engine.CheckTimeouts()
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if !cancel.Canceled() {
		t.Fatal("cancel handle not signaled")
	}
	if cancel.Reason() != escalation.TimeoutReason {
		t.Errorf("reason = %q, want %q", cancel.Reason(), escalation.TimeoutReason)
	}
	active, ok := runtime.tracker.Get(ectx.ExecutionID)
	if !ok || active.Status != core.StatusTerminated {
		t.Errorf("tracked status = %+v ok=%v, want terminated", active, ok)
	}
}

func TestExpiredEscalationPersistedAndAudited(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-memory",
		Name:       "memory overshoot",
		Condition:  escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
		EscalateTo: "ops",
		Timeout:    "PT0S",
		Priority:   escalation.PriorityHigh,
	}
	runtime, repo := newTestRuntime(t, WithRules(rule))
	ctx := context.Background()
	ectx, _ := beginOne(t, runtime, "tenant-1")

	record, err := runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 512})
	if err != nil || record == nil {
		t.Fatalf("ReportUsage: record=%v err=%v", record, err)
	}

	if expired := runtime.engine.CheckTimeouts(); len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}

	// Expiry is a terminal transition like resolution: the repository row
	// flips to expired, leaves the active list, and gets an audit record.
	stored, err := repo.GetEscalation(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetEscalation: %v", err)
	}
	if stored.Status != escalation.RecordExpired {
		t.Errorf("persisted status = %q, want expired", stored.Status)
	}

	active, err := repo.ListActiveEscalations(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListActiveEscalations: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("active escalations = %d, want 0", len(active))
	}

	audits, err := runtime.AuditTrail(ctx, storage.AuditQuery{TenantID: "tenant-1", EventType: AuditEscalationExpired})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(audits) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audits))
	}
}

func TestAdmissionDenialAnnotatesCallerSpan(t *testing.T) {
	runtime, _ := newTestRuntime(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "admit")
	for i := 0; i < 5; i++ {
		if _, err := runtime.AdmitRequest(ctx, "tenant-1", TierFree); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if _, err := runtime.AdmitRequest(ctx, "tenant-1", TierFree); !core.IsAdmissionDenied(err) {
		t.Fatalf("expected admission denial, got %v", err)
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	found := false
	for _, event := range spans[0].Events() {
		if event.Name == "admission.denied" {
			found = true
		}
	}
	if !found {
		t.Error("denial left no event on the caller's span")
	}
}

func TestExecutionCorrelatesWithCallerTrace(t *testing.T) {
	runtime, _ := newTestRuntime(t)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "execute")
	intent, decision := testIntent("tenant-1")
	ectx, err := runtime.BeginExecution(ctx, BeginParams{
		Intent:   intent,
		Decision: decision,
		Tier:     TierFree,
		Cancel:   core.NewCancelSignal(),
	})
	if err != nil {
		t.Fatalf("BeginExecution: %v", err)
	}

	// The execution context inherits the caller's trace id so history
	// rows correlate with the admitting trace.
	if want := span.SpanContext().TraceID().String(); ectx.TraceID != want {
		t.Errorf("trace id = %q, want caller's %q", ectx.TraceID, want)
	}

	// A failed finish flips the caller's span to error status.
	if err := runtime.FinishExecution(ctx, ectx.ExecutionID, core.StatusFailed, nil, errors.New("handler exploded")); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if got := spans[0].Status().Code; got != codes.Error {
		t.Errorf("span status = %v, want error", got)
	}
	tagged := false
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "execution_id" && attr.Value.AsString() == ectx.ExecutionID {
			tagged = true
		}
	}
	if !tagged {
		t.Error("execution id not tagged on the caller's span")
	}
}

func TestEscalationAnnotatesCallerSpan(t *testing.T) {
	rule := escalation.Rule{
		ID:         "rule-memory",
		Name:       "memory overshoot",
		Condition:  escalation.ResourceExceeded{Resource: "memoryMb", Threshold: 400},
		EscalateTo: "ops",
		Timeout:    "PT30M",
		Priority:   escalation.PriorityHigh,
	}
	runtime, _ := newTestRuntime(t, WithRules(rule))

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ectx, _ := beginOne(t, runtime, "tenant-1")

	ctx, span := tp.Tracer("test").Start(context.Background(), "report")
	record, err := runtime.ReportUsage(ctx, ectx.ExecutionID, core.ResourceUsage{MemoryMB: 512})
	if err != nil || record == nil {
		t.Fatalf("ReportUsage: record=%v err=%v", record, err)
	}
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	found := false
	for _, event := range spans[0].Events() {
		if event.Name == "escalation.created" {
			found = true
		}
	}
	if !found {
		t.Error("escalation left no event on the caller's span")
	}
}

func TestCreateChildConsumesSlot(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()
	parent, _ := beginOne(t, runtime, "tenant-1")

	child, err := runtime.CreateChild(ctx, parent.ExecutionID, ChildOverrides{}, core.NewCancelSignal())
	if err != nil {
		t.Fatalf("CreateChild: %v", err)
	}
	if child.ParentExecutionID != parent.ExecutionID {
		t.Errorf("parent id = %q, want %q", child.ParentExecutionID, parent.ExecutionID)
	}
	if child.CorrelationID != parent.CorrelationID {
		t.Errorf("correlation id diverged: %q vs %q", child.CorrelationID, parent.CorrelationID)
	}
	if got := runtime.limiter.ConcurrentCount("tenant-1"); got != 2 {
		t.Errorf("concurrent = %d, want 2", got)
	}

	if _, err := runtime.CreateChild(ctx, "exec-ghost", ChildOverrides{}, core.NewCancelSignal()); !core.IsNotTracked(err) {
		t.Errorf("ghost parent = %v, want not-tracked", err)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()

	beginOne(t, runtime, "tenant-1")
	// Simulate a caller that recorded executions but never tracked them.
	runtime.limiter.SetConcurrent("tenant-1", 4)
	runtime.limiter.SetConcurrent("tenant-ghost", 2)

	drifts := runtime.Reconcile(ctx)
	if len(drifts) != 2 {
		t.Fatalf("drifts = %+v, want 2 entries", drifts)
	}
	if got := runtime.limiter.ConcurrentCount("tenant-1"); got != 1 {
		t.Errorf("tenant-1 counter = %d, want 1", got)
	}
	if got := runtime.limiter.ConcurrentCount("tenant-ghost"); got != 0 {
		t.Errorf("tenant-ghost counter = %d, want 0", got)
	}

	// Aligned counters are left alone.
	if drifts := runtime.Reconcile(ctx); len(drifts) != 0 {
		t.Errorf("second reconcile = %+v, want none", drifts)
	}
}

func TestStatisticsDelegatesToRepository(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()

	ectx, _ := beginOne(t, runtime, "tenant-1")
	if err := runtime.FinishExecution(ctx, ectx.ExecutionID, core.StatusCompleted, nil, nil); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}

	stats, err := runtime.Statistics(ctx, "tenant-1", time.Time{})
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestShutdownClosesRuntime(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()

	if err := runtime.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := runtime.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	// Idempotent.
	if err := runtime.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if _, err := runtime.AdmitRequest(ctx, "tenant-1", TierFree); !errors.Is(err, core.ErrRuntimeClosed) {
		t.Errorf("AdmitRequest after shutdown = %v, want runtime-closed", err)
	}
	if _, err := runtime.BeginExecution(ctx, BeginParams{}); !errors.Is(err, core.ErrRuntimeClosed) {
		t.Errorf("BeginExecution after shutdown = %v, want runtime-closed", err)
	}
	if err := runtime.Start(ctx); !errors.Is(err, core.ErrRuntimeClosed) {
		t.Errorf("Start after shutdown = %v, want runtime-closed", err)
	}
}

func TestConcurrentCeilingThroughRuntime(t *testing.T) {
	runtime, _ := newTestRuntime(t)
	ctx := context.Background()

	// Free tier allows 5 concurrent executions.
	var last *core.ExecutionContext
	for i := 0; i < 5; i++ {
		intent := &core.Intent{ID: fmt.Sprintf("intent-%d", i), TenantID: "tenant-1"}
		decision := &core.Decision{IntentID: intent.ID, Action: core.ActionAllow}
		ectx, err := runtime.BeginExecution(ctx, BeginParams{
			Intent:   intent,
			Decision: decision,
			Tier:     TierFree,
			Cancel:   core.NewCancelSignal(),
		})
		if err != nil {
			t.Fatalf("execution %d: %v", i, err)
		}
		last = ectx
	}

	intent, decision := testIntent("tenant-1")
	_, err := runtime.BeginExecution(ctx, BeginParams{
		Intent:   intent,
		Decision: decision,
		Tier:     TierFree,
		Cancel:   core.NewCancelSignal(),
	})
	if !core.IsAdmissionDenied(err) {
		t.Fatalf("sixth execution = %v, want admission denial", err)
	}

	if err := runtime.FinishExecution(ctx, last.ExecutionID, core.StatusCompleted, nil, nil); err != nil {
		t.Fatalf("FinishExecution: %v", err)
	}
	if _, err := runtime.BeginExecution(ctx, BeginParams{
		Intent:   intent,
		Decision: decision,
		Tier:     TierFree,
		Cancel:   core.NewCancelSignal(),
	}); err != nil {
		t.Fatalf("after slot release: %v", err)
	}
}
