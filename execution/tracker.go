package execution

import (
	"sync"
	"time"

	"github.com/cognigate/cognigate/core"
)

// ActiveExecution is one in-flight execution as the tracker sees it. The
// tracker owns these records; lookups return value copies so readers
// never race with status mutations. The embedded context is treated as
// read-only everywhere.
type ActiveExecution struct {
	ExecutionID string
	TenantID    string
	IntentID    string
	HandlerName string
	Status      core.ExecutionStatus
	StartedAt   time.Time
	Deadline    time.Time
	Cancel      core.CancelHandle
	Monitor     core.ResourceMonitor
	Context     *core.ExecutionContext
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker's logger.
func WithTrackerLogger(logger core.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Tracker is the registry of in-flight executions, indexed by execution
// id and by tenant. Both indices move together under one lock: every
// tracked id appears in exactly one tenant set, and empty tenant sets
// are deleted.
//
// The tracker observes cancellation, it never initiates it on its own:
// cancel handles are supplied by callers at track time and signaled only
// by TerminateAll. Deadline expiry detection (GetExpired) is read-only;
// acting on it is the caller's decision.
type Tracker struct {
	mu         sync.Mutex
	logger     core.Logger
	executions map[string]*ActiveExecution
	byTenant   map[string]map[string]struct{}

	// now is the clock hook; tests override it for deterministic deadlines.
	now func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		logger:     &core.NoOpLogger{},
		executions: make(map[string]*ActiveExecution),
		byTenant:   make(map[string]map[string]struct{}),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track registers an execution with status pending. It fails loudly on a
// duplicate execution id. The deadline comes from the context when set,
// otherwise from now plus the context's timeout.
func (t *Tracker) Track(executionID string, ctx *core.ExecutionContext, cancel core.CancelHandle) error {
	if ctx == nil {
		return &core.ValidationError{Field: "context", Message: "context is required"}
	}
	if executionID == "" {
		executionID = ctx.ExecutionID
	}
	if executionID == "" {
		return &core.ValidationError{Field: "execution_id", Message: "execution id is required"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.executions[executionID]; exists {
		return &core.DuplicateExecutionError{ExecutionID: executionID}
	}

	now := t.now()
	deadline := ctx.Deadline
	if deadline.IsZero() {
		timeoutMs := ctx.Limits.TimeoutMs
		if timeoutMs <= 0 {
			timeoutMs = core.DefaultTimeoutMs
		}
		deadline = now.Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	intentID := ""
	if ctx.Intent != nil {
		intentID = ctx.Intent.ID
	}

	entry := &ActiveExecution{
		ExecutionID: executionID,
		TenantID:    ctx.TenantID,
		IntentID:    intentID,
		HandlerName: ctx.Handler,
		Status:      core.StatusPending,
		StartedAt:   now,
		Deadline:    deadline,
		Cancel:      cancel,
		Context:     ctx,
	}

	t.executions[executionID] = entry
	tenantSet, ok := t.byTenant[ctx.TenantID]
	if !ok {
		tenantSet = make(map[string]struct{})
		t.byTenant[ctx.TenantID] = tenantSet
	}
	tenantSet[executionID] = struct{}{}

	t.logger.Info("Execution tracked", map[string]interface{}{
		"execution_id": executionID,
		"tenant_id":    ctx.TenantID,
		"handler":      ctx.Handler,
		"deadline":     deadline.UTC().Format(time.RFC3339),
	})
	recordTrackedCount(len(t.executions))
	return nil
}

// Get returns a copy of the tracked execution. Unknown ids are a soft
// miss, not an error.
func (t *Tracker) Get(executionID string) (ActiveExecution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.executions[executionID]
	if !ok {
		return ActiveExecution{}, false
	}
	return *entry, true
}

// Remove deletes the execution from both indices and returns the removed
// entry. Removing an unknown id warns and reports false.
func (t *Tracker) Remove(executionID string) (ActiveExecution, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.executions[executionID]
	if !ok {
		t.logger.Warn("Remove of untracked execution", map[string]interface{}{
			"execution_id": executionID,
		})
		return ActiveExecution{}, false
	}

	delete(t.executions, executionID)
	if tenantSet, ok := t.byTenant[entry.TenantID]; ok {
		delete(tenantSet, executionID)
		if len(tenantSet) == 0 {
			delete(t.byTenant, entry.TenantID)
		}
	}

	recordTrackedCount(len(t.executions))
	return *entry, true
}

// UpdateStatus applies a status transition and reports whether it was
// applied. Unknown ids, unknown statuses, and disallowed transitions are
// warn no-ops; re-asserting the current status is a silent no-op that
// reports true.
func (t *Tracker) UpdateStatus(executionID string, status core.ExecutionStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.executions[executionID]
	if !ok {
		t.logger.Warn("Status update for untracked execution", map[string]interface{}{
			"execution_id": executionID,
			"status":       string(status),
		})
		return false
	}
	if !status.Valid() {
		t.logger.Warn("Unknown execution status", map[string]interface{}{
			"execution_id": executionID,
			"status":       string(status),
		})
		return false
	}
	if entry.Status == status {
		return true
	}
	if !transitionAllowed(entry.Status, status) {
		t.logger.Warn("Rejected status transition", map[string]interface{}{
			"execution_id": executionID,
			"from":         string(entry.Status),
			"to":           string(status),
		})
		return false
	}

	entry.Status = status
	recordStatusTransition(string(status))
	return true
}

// GetByTenant returns copies of every tracked execution for the tenant.
func (t *Tracker) GetByTenant(tenantID string) []ActiveExecution {
	t.mu.Lock()
	defer t.mu.Unlock()

	tenantSet := t.byTenant[tenantID]
	if len(tenantSet) == 0 {
		return nil
	}
	out := make([]ActiveExecution, 0, len(tenantSet))
	for executionID := range tenantSet {
		if entry, ok := t.executions[executionID]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

// CountByTenant returns the number of tracked executions for the tenant.
func (t *Tracker) CountByTenant(tenantID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byTenant[tenantID])
}

// Tenants returns every tenant id with at least one tracked execution.
func (t *Tracker) Tenants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.byTenant))
	for tenantID := range t.byTenant {
		out = append(out, tenantID)
	}
	return out
}

// Count returns the total number of tracked executions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.executions)
}

// GetExpired returns copies of every execution whose deadline has passed.
// It mutates nothing; escalating or terminating expired work is the
// orchestration layer's decision.
func (t *Tracker) GetExpired() []ActiveExecution {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []ActiveExecution
	for _, entry := range t.executions {
		if now.After(entry.Deadline) {
			out = append(out, *entry)
		}
	}
	return out
}

// TerminateAll cancels every non-terminal execution with the given reason
// and marks it terminated. Individual cancel errors are logged and do
// not abort the sweep. Returns the number of executions terminated.
// Entries stay registered; callers still Remove them to release slots.
func (t *Tracker) TerminateAll(reason string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	terminated := 0
	for _, entry := range t.executions {
		if entry.Status.IsTerminal() {
			continue
		}
		if entry.Cancel != nil {
			if err := entry.Cancel.Cancel(reason); err != nil {
				t.logger.Error("Cancel failed during terminate-all", map[string]interface{}{
					"execution_id": entry.ExecutionID,
					"error":        err.Error(),
				})
			}
		}
		entry.Status = core.StatusTerminated
		terminated++
	}

	if terminated > 0 {
		t.logger.Warn("Terminated all active executions", map[string]interface{}{
			"reason": reason,
			"count":  terminated,
		})
		recordTerminations(terminated)
	}
	return terminated
}

// SetResourceMonitor attaches a monitor to a tracked execution. Unlike
// status updates, attaching to an untracked execution is a programmer
// error and fails loudly.
func (t *Tracker) SetResourceMonitor(executionID string, monitor core.ResourceMonitor) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.executions[executionID]
	if !ok {
		return &core.NotTrackedError{ExecutionID: executionID, Op: "set_resource_monitor"}
	}
	entry.Monitor = monitor
	return nil
}

// transitionAllowed is the status transition table. Pending may move to
// any other status; running may move to any terminal status; terminal
// statuses accept nothing.
func transitionAllowed(from, to core.ExecutionStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case core.StatusPending:
		return true
	case core.StatusRunning:
		return to != core.StatusPending
	}
	return false
}
