package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognigate/cognigate/core"
)

// capturingLogger records warn and error messages for assertions.
type capturingLogger struct {
	core.NoOpLogger
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *capturingLogger) Warn(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *capturingLogger) Error(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *capturingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func (l *capturingLogger) hasWarn(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// terminateRecorder counts termination callback invocations.
type terminateRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *terminateRecorder) terminate(executionID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, executionID+"/"+reason)
	return r.err
}

func (r *terminateRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// expireRecorder captures expiry observer invocations.
type expireRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *expireRecorder) observe(record Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *expireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func fixedEngine(at time.Time, opts ...Option) *Engine {
	engine := NewEngine(nil, opts...)
	engine.now = func() time.Time { return at }
	return engine
}

func memoryRule(threshold float64) Rule {
	return Rule{
		ID:         "rule-memory",
		Name:       "memory overshoot",
		Condition:  ResourceExceeded{Resource: "memoryMb", Threshold: threshold},
		EscalateTo: "ops",
		Timeout:    "PT30M",
		Priority:   PriorityHigh,
	}
}

func intPtr(v int) *int { return &v }

func TestEvaluateConditions(t *testing.T) {
	cases := []struct {
		name      string
		condition Condition
		ctx       EvaluationContext
		want      bool
	}{
		{
			name:      "resource exceeded over threshold",
			condition: ResourceExceeded{Resource: "memoryMb", Threshold: 400},
			ctx:       EvaluationContext{Usage: &core.ResourceUsage{MemoryMB: 512}},
			want:      true,
		},
		{
			name:      "resource exceeded at threshold",
			condition: ResourceExceeded{Resource: "memoryMb", Threshold: 512},
			ctx:       EvaluationContext{Usage: &core.ResourceUsage{MemoryMB: 512}},
			want:      false,
		},
		{
			name:      "resource exceeded without usage",
			condition: ResourceExceeded{Resource: "memoryMb", Threshold: 400},
			ctx:       EvaluationContext{},
			want:      false,
		},
		{
			name:      "resource exceeded unknown field",
			condition: ResourceExceeded{Resource: "gpuPercent", Threshold: 1},
			ctx:       EvaluationContext{Usage: &core.ResourceUsage{MemoryMB: 512}},
			want:      false,
		},
		{
			name:      "execution failed any handler",
			condition: ExecutionFailed{},
			ctx:       EvaluationContext{Error: errors.New("boom")},
			want:      true,
		},
		{
			name:      "execution failed without error",
			condition: ExecutionFailed{},
			ctx:       EvaluationContext{},
			want:      false,
		},
		{
			name:      "execution failed handler mismatch",
			condition: ExecutionFailed{HandlerName: "batch"},
			ctx:       EvaluationContext{Error: errors.New("boom"), HandlerName: "stream"},
			want:      false,
		},
		{
			name:      "execution failed consecutive threshold met",
			condition: ExecutionFailed{ConsecutiveFailures: 3},
			ctx:       EvaluationContext{Error: errors.New("boom"), ConsecutiveFailures: 3},
			want:      true,
		},
		{
			name:      "execution failed consecutive threshold unmet",
			condition: ExecutionFailed{ConsecutiveFailures: 3},
			ctx:       EvaluationContext{Error: errors.New("boom"), ConsecutiveFailures: 2},
			want:      false,
		},
		{
			name:      "timeout exceeded",
			condition: TimeoutExceeded{ThresholdMs: 1000},
			ctx:       EvaluationContext{Usage: &core.ResourceUsage{WallTimeMs: 1500}},
			want:      true,
		},
		{
			name:      "timeout not exceeded",
			condition: TimeoutExceeded{ThresholdMs: 1000},
			ctx:       EvaluationContext{Usage: &core.ResourceUsage{WallTimeMs: 1000}},
			want:      false,
		},
		{
			name:      "sandbox violation type match",
			condition: SandboxViolation{ViolationType: "network_egress"},
			ctx:       EvaluationContext{Violation: &core.Violation{Type: "network_egress"}},
			want:      true,
		},
		{
			name:      "sandbox violation type mismatch",
			condition: SandboxViolation{ViolationType: "network_egress"},
			ctx:       EvaluationContext{Violation: &core.Violation{Type: "filesystem"}},
			want:      false,
		},
		{
			name:      "trust below level",
			condition: TrustBelow{Level: 3},
			ctx:       EvaluationContext{TrustLevel: intPtr(2)},
			want:      true,
		},
		{
			name:      "trust at level",
			condition: TrustBelow{Level: 3},
			ctx:       EvaluationContext{TrustLevel: intPtr(3)},
			want:      false,
		},
		{
			name:      "trust level absent",
			condition: TrustBelow{Level: 3},
			ctx:       EvaluationContext{},
			want:      false,
		},
		{
			name: "custom predicate true",
			condition: Custom{Name: "always", Predicate: PredicateFunc(func(EvaluationContext) (bool, error) {
				return true, nil
			})},
			ctx:  EvaluationContext{},
			want: true,
		},
		{
			name:      "custom predicate absent",
			condition: Custom{Name: "rehydrated"},
			ctx:       EvaluationContext{},
			want:      false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewEngine(nil)
			if _, err := engine.AddRule(Rule{Name: tc.name, Condition: tc.condition, Timeout: "PT1H"}); err != nil {
				t.Fatalf("AddRule failed: %v", err)
			}
			_, matched := engine.Evaluate(tc.ctx)
			if matched != tc.want {
				t.Errorf("Evaluate = %v, want %v", matched, tc.want)
			}
		})
	}
}

func TestEvaluateFirstMatchInOrder(t *testing.T) {
	engine := NewEngine(nil)

	// Lower-priority rule registered first must win over a later
	// critical rule: matching is list order, never priority.
	first := Rule{ID: "rule-first", Name: "first", Priority: PriorityLow,
		Condition: ResourceExceeded{Resource: "memoryMb", Threshold: 100}, Timeout: "PT1H"}
	second := Rule{ID: "rule-second", Name: "second", Priority: PriorityCritical,
		Condition: ResourceExceeded{Resource: "memoryMb", Threshold: 50}, Timeout: "PT1H"}

	for _, rule := range []Rule{first, second} {
		if _, err := engine.AddRule(rule); err != nil {
			t.Fatalf("AddRule failed: %v", err)
		}
	}

	rule, matched := engine.Evaluate(EvaluationContext{Usage: &core.ResourceUsage{MemoryMB: 512}})
	if !matched {
		t.Fatal("Expected a match")
	}
	if rule.ID != "rule-first" {
		t.Errorf("Expected first registered rule to match, got %q", rule.ID)
	}
}

func TestCustomPredicateContainment(t *testing.T) {
	logger := &capturingLogger{}
	engine := NewEngine(nil, WithLogger(logger))

	if _, err := engine.AddRule(Rule{Name: "erroring", Timeout: "PT1H",
		Condition: Custom{Name: "erroring", Predicate: PredicateFunc(func(EvaluationContext) (bool, error) {
			return true, errors.New("predicate blew up")
		})}}); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if _, err := engine.AddRule(Rule{Name: "panicking", Timeout: "PT1H",
		Condition: Custom{Name: "panicking", Predicate: PredicateFunc(func(EvaluationContext) (bool, error) {
			panic("predicate panic")
		})}}); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	// A later rule must still get its chance after the bad ones.
	if _, err := engine.AddRule(memoryRule(400)); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	rule, matched := engine.Evaluate(EvaluationContext{Usage: &core.ResourceUsage{MemoryMB: 512}})
	if !matched || rule.ID != "rule-memory" {
		t.Fatalf("Expected memory rule to match past contained predicates, got %q (matched=%v)", rule.ID, matched)
	}
	if logger.warnCount() == 0 {
		t.Error("Expected predicate error warning")
	}
}

func TestEscalateCreatesPendingRecord(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := fixedEngine(createdAt)
	rule := memoryRule(400)
	rule.AutoTerminateOnTimeout = true

	violation := &core.Violation{Type: "resource", Severity: "high"}
	record := engine.Escalate("exec-1", "tenant-1", "intent-1", rule, "memory limit breached", violation)

	if record.Status != RecordPending {
		t.Errorf("Expected pending status, got %q", record.Status)
	}
	if record.Priority != PriorityHigh {
		t.Errorf("Expected priority copied from rule, got %q", record.Priority)
	}
	if record.EscalatedTo != "ops" {
		t.Errorf("Expected escalated_to from rule, got %q", record.EscalatedTo)
	}
	if record.Violation == nil || record.Violation.Type != "resource" {
		t.Error("Expected violation carried on the record")
	}
	wantTimeout := createdAt.Add(30 * time.Minute)
	if !record.TimeoutAt.Equal(wantTimeout) {
		t.Errorf("Expected timeout at %v, got %v", wantTimeout, record.TimeoutAt)
	}
	if !record.CreatedAt.Equal(createdAt) {
		t.Errorf("Expected created at %v, got %v", createdAt, record.CreatedAt)
	}

	active := engine.GetActive("tenant-1")
	if len(active) != 1 || active[0].ID != record.ID {
		t.Fatalf("Expected the record in the active map, got %v", active)
	}
}

func TestEscalateMalformedTimeoutFallsBack(t *testing.T) {
	createdAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logger := &capturingLogger{}
	engine := fixedEngine(createdAt, WithLogger(logger))

	rule := memoryRule(400)
	rule.Timeout = "thirty minutes"
	record := engine.Escalate("exec-1", "tenant-1", "intent-1", rule, "reason", nil)

	if !record.TimeoutAt.Equal(createdAt.Add(FallbackTimeout)) {
		t.Errorf("Expected fallback timeout of 1h, got %v", record.TimeoutAt.Sub(createdAt))
	}
	if !logger.hasWarn("Malformed rule timeout") {
		t.Error("Expected malformed-timeout warning")
	}
}

func TestAcknowledgeLifecycle(t *testing.T) {
	logger := &capturingLogger{}
	engine := fixedEngine(time.Now(), WithLogger(logger))
	record := engine.Escalate("exec-1", "tenant-1", "intent-1", memoryRule(400), "reason", nil)

	if !engine.Acknowledge(record.ID, "alice") {
		t.Fatal("Expected acknowledge to succeed")
	}
	// Second acknowledge is a warn no-op that leaves the record acknowledged.
	if engine.Acknowledge(record.ID, "alice") {
		t.Error("Expected second acknowledge to be a no-op")
	}
	if logger.warnCount() != 1 {
		t.Errorf("Expected exactly one warning, got %d", logger.warnCount())
	}

	active := engine.GetActive("")
	if len(active) != 1 || active[0].Status != RecordAcknowledged {
		t.Fatalf("Expected one acknowledged record, got %v", active)
	}
	if len(engine.GetPending()) != 0 {
		t.Error("Expected no pending records after acknowledge")
	}

	if engine.Acknowledge("esc-unknown", "alice") {
		t.Error("Expected acknowledge of unknown record to be a no-op")
	}
}

func TestResolveLifecycle(t *testing.T) {
	resolveTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logger := &capturingLogger{}
	engine := fixedEngine(resolveTime, WithLogger(logger))
	record := engine.Escalate("exec-1", "tenant-1", "intent-1", memoryRule(400), "reason", nil)

	resolved, ok := engine.Resolve(record.ID, "bob", "terminated", "killed the runaway job")
	if !ok {
		t.Fatal("Expected resolve to succeed")
	}
	if resolved.Status != RecordResolved {
		t.Errorf("Expected resolved status, got %q", resolved.Status)
	}
	if resolved.ResolvedBy != "bob" || resolved.ResolutionAction != "terminated" {
		t.Errorf("Expected resolution fields recorded, got %+v", resolved)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(resolveTime) {
		t.Errorf("Expected resolved-at stamped, got %v", resolved.ResolvedAt)
	}
	if len(engine.GetActive("")) != 0 {
		t.Error("Expected resolved record removed from active map")
	}

	// Second resolve is a warn no-op.
	if _, ok := engine.Resolve(record.ID, "bob", "terminated", ""); ok {
		t.Error("Expected second resolve to be a no-op")
	}
	if logger.warnCount() != 1 {
		t.Errorf("Expected exactly one warning, got %d", logger.warnCount())
	}
}

func TestResolveAcknowledgedRecord(t *testing.T) {
	engine := fixedEngine(time.Now())
	record := engine.Escalate("exec-1", "tenant-1", "intent-1", memoryRule(400), "reason", nil)

	engine.Acknowledge(record.ID, "alice")
	if _, ok := engine.Resolve(record.ID, "alice", "scaled", ""); !ok {
		t.Error("Expected resolve of acknowledged record to succeed")
	}
}

func TestGetActiveFiltersByTenant(t *testing.T) {
	engine := fixedEngine(time.Now())
	engine.Escalate("exec-1", "tenant-1", "intent-1", memoryRule(400), "reason", nil)
	engine.Escalate("exec-2", "tenant-2", "intent-2", memoryRule(400), "reason", nil)

	if got := len(engine.GetActive("tenant-1")); got != 1 {
		t.Errorf("Expected 1 active record for tenant-1, got %d", got)
	}
	if got := len(engine.GetActive("")); got != 2 {
		t.Errorf("Expected 2 active records unfiltered, got %d", got)
	}
	for _, record := range engine.GetActive("") {
		if record.Status != RecordPending && record.Status != RecordAcknowledged {
			t.Errorf("Active record in terminal state %q", record.Status)
		}
	}
}

func TestCheckTimeoutsExpiresAndAutoTerminates(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recorder := &terminateRecorder{}
	engine := fixedEngine(start, WithTerminateFunc(recorder.terminate))

	autoRule := memoryRule(400)
	autoRule.Timeout = "PT10M"
	autoRule.AutoTerminateOnTimeout = true
	plainRule := memoryRule(400)
	plainRule.ID = "rule-plain"
	plainRule.Timeout = "PT10M"

	expiring := engine.Escalate("exec-auto", "tenant-1", "intent-1", autoRule, "reason", nil)
	engine.Escalate("exec-plain", "tenant-1", "intent-2", plainRule, "reason", nil)

	lateRule := memoryRule(400)
	lateRule.ID = "rule-late"
	lateRule.Timeout = "PT2H"
	engine.Escalate("exec-late", "tenant-1", "intent-3", lateRule, "reason", nil)

	// Nothing is due yet.
	if expired := engine.CheckTimeouts(); expired != nil {
		t.Fatalf("Expected no expiries before the deadline, got %d", len(expired))
	}

	engine.now = func() time.Time { return start.Add(11 * time.Minute) }
	expired := engine.CheckTimeouts()
	if len(expired) != 2 {
		t.Fatalf("Expected 2 expired records, got %d", len(expired))
	}
	for _, record := range expired {
		if record.Status != RecordExpired {
			t.Errorf("Expected expired status, got %q", record.Status)
		}
	}
	if recorder.callCount() != 1 {
		t.Fatalf("Expected exactly one termination callback, got %d", recorder.callCount())
	}
	if recorder.calls[0] != "exec-auto/"+TimeoutReason {
		t.Errorf("Unexpected termination call %q", recorder.calls[0])
	}
	if len(engine.GetActive("")) != 1 {
		t.Error("Expected only the late record to stay active")
	}

	// A second sweep must not double-finalize or re-terminate.
	if expired := engine.CheckTimeouts(); expired != nil {
		t.Errorf("Expected idempotent sweep, got %d expiries", len(expired))
	}
	if recorder.callCount() != 1 {
		t.Errorf("Expected termination to stay at one call, got %d", recorder.callCount())
	}
	_ = expiring
}

func TestCheckTimeoutsNotifiesExpiryObserver(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	observer := &expireRecorder{}
	recorder := &terminateRecorder{}
	engine := fixedEngine(start,
		WithExpireFunc(observer.observe),
		WithTerminateFunc(recorder.terminate))

	autoRule := memoryRule(400)
	autoRule.Timeout = "PT10M"
	autoRule.AutoTerminateOnTimeout = true
	plainRule := memoryRule(400)
	plainRule.ID = "rule-plain"
	plainRule.Timeout = "PT10M"

	engine.Escalate("exec-auto", "tenant-1", "intent-1", autoRule, "reason", nil)
	engine.Escalate("exec-plain", "tenant-1", "intent-2", plainRule, "reason", nil)

	engine.now = func() time.Time { return start.Add(11 * time.Minute) }
	if expired := engine.CheckTimeouts(); len(expired) != 2 {
		t.Fatalf("Expected 2 expired records, got %d", len(expired))
	}

	// The observer sees every expired record, auto-terminating or not,
	// with the terminal status already applied.
	if observer.count() != 2 {
		t.Fatalf("Expected observer notified for both records, got %d", observer.count())
	}
	for _, record := range observer.records {
		if record.Status != RecordExpired {
			t.Errorf("Observer saw status %q, want expired", record.Status)
		}
	}

	// A second sweep must not re-notify.
	engine.CheckTimeouts()
	if observer.count() != 2 {
		t.Errorf("Expected observer to stay at 2 notifications, got %d", observer.count())
	}
}

func TestCheckTimeoutsTerminateErrorDoesNotAbortSweep(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	logger := &capturingLogger{}
	recorder := &terminateRecorder{err: errors.New("tracker unavailable")}
	engine := fixedEngine(start, WithLogger(logger), WithTerminateFunc(recorder.terminate))

	rule := memoryRule(400)
	rule.Timeout = "PT1M"
	rule.AutoTerminateOnTimeout = true
	engine.Escalate("exec-1", "tenant-1", "intent-1", rule, "reason", nil)
	engine.Escalate("exec-2", "tenant-1", "intent-2", rule, "reason", nil)

	engine.now = func() time.Time { return start.Add(2 * time.Minute) }
	expired := engine.CheckTimeouts()
	if len(expired) != 2 {
		t.Fatalf("Expected both records to expire despite callback errors, got %d", len(expired))
	}
	if recorder.callCount() != 2 {
		t.Errorf("Expected both terminations attempted, got %d", recorder.callCount())
	}
}

func TestScannerExpiresRecords(t *testing.T) {
	recorder := &terminateRecorder{}
	engine := NewEngine(&Config{CheckInterval: 10 * time.Millisecond},
		WithTerminateFunc(recorder.terminate))

	rule := memoryRule(400)
	rule.Timeout = "PT1M"
	rule.AutoTerminateOnTimeout = true
	engine.Escalate("exec-1", "tenant-1", "intent-1", rule, "reason", nil)

	// Move the clock past the deadline before the scanner fires.
	engine.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	engine.Start(context.Background())
	defer engine.Stop()

	deadline := time.After(2 * time.Second)
	for recorder.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for the scanner to auto-terminate")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(engine.GetActive("")) != 0 {
		t.Error("Expected the expired record removed from active")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	engine := NewEngine(&Config{CheckInterval: 10 * time.Millisecond})

	engine.Start(context.Background())
	engine.Start(context.Background()) // restart replaces the scanner
	engine.Stop()
	engine.Stop() // stopping a stopped scanner is a no-op
}

func TestStartStopConcurrent(t *testing.T) {
	engine := NewEngine(&Config{CheckInterval: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			engine.Stop()
		}()
	}
	wg.Wait()
	engine.Stop()
}

func TestShutdownWarnsOnActiveRecords(t *testing.T) {
	logger := &capturingLogger{}
	engine := fixedEngine(time.Now(), WithLogger(logger))
	engine.Escalate("exec-1", "tenant-1", "intent-1", memoryRule(400), "reason", nil)

	engine.Shutdown()

	if !logger.hasWarn("still active at shutdown") {
		t.Error("Expected non-empty-map warning at shutdown")
	}
	if len(engine.GetActive("")) != 0 {
		t.Error("Expected active map cleared at shutdown")
	}
}

func TestRuleStore(t *testing.T) {
	engine := NewEngine(nil)

	id, err := engine.AddRule(Rule{Name: "no id", Condition: ExecutionFailed{}, Timeout: "PT1H"})
	if err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a generated rule id")
	}

	rule, ok := engine.GetRule(id)
	if !ok {
		t.Fatal("Expected rule to be retrievable")
	}
	if rule.Priority != PriorityMedium {
		t.Errorf("Expected default medium priority, got %q", rule.Priority)
	}

	if _, err := engine.AddRule(Rule{ID: id, Name: "dup", Condition: ExecutionFailed{}, Timeout: "PT1H"}); err == nil {
		t.Error("Expected duplicate rule id to be rejected")
	}
	if _, err := engine.AddRule(Rule{Name: "no condition", Timeout: "PT1H"}); err == nil {
		t.Error("Expected rule without condition to be rejected")
	}
	if _, err := engine.AddRule(Rule{Name: "bad priority", Condition: ExecutionFailed{}, Priority: "urgent"}); err == nil {
		t.Error("Expected unknown priority to be rejected")
	}

	if !engine.RemoveRule(id) {
		t.Error("Expected rule removal to succeed")
	}
	if engine.RemoveRule(id) {
		t.Error("Expected second removal to report false")
	}
	if len(engine.Rules()) != 0 {
		t.Error("Expected empty rule list")
	}
}
