// Package cognigate is the constrained execution runtime: a multi-tenant
// governance core for bounded units of work derived from authorized
// intents. The Runtime facade composes rate admission, execution context
// construction, active-execution tracking, and the escalation lifecycle
// over a pluggable history repository.
//
// The in-memory components are authoritative for the runtime's current
// state; the repository records history and survives restarts, it never
// coordinates across processes.
package cognigate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
	"github.com/cognigate/cognigate/execution"
	"github.com/cognigate/cognigate/ratelimit"
	"github.com/cognigate/cognigate/storage"
	"github.com/cognigate/cognigate/telemetry"
)

// Audit event types written by the runtime.
const (
	AuditAdmissionDenied        = "admission_denied"
	AuditExecutionStarted       = "execution_started"
	AuditExecutionFinished      = "execution_finished"
	AuditExecutionTerminated    = "execution_terminated"
	AuditEscalationCreated      = "escalation_created"
	AuditEscalationAcknowledged = "escalation_acknowledged"
	AuditEscalationResolved     = "escalation_resolved"
	AuditEscalationExpired      = "escalation_expired"
	AuditCounterReconciled      = "counter_reconciled"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger. Without it the runtime builds a
// ZapLogger from the logging config.
func WithLogger(logger core.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRepository injects the history repository, bypassing the storage
// config. The circuit-breaker setting still applies on top.
func WithRepository(repo storage.Repository) Option {
	return func(r *Runtime) {
		if repo != nil {
			r.repo = repo
		}
	}
}

// WithRules registers escalation rules at construction, before any rules
// file is loaded.
func WithRules(rules ...escalation.Rule) Option {
	return func(r *Runtime) {
		r.rules = append(r.rules, rules...)
	}
}

// WithLimitOverrides applies runtime-wide rate-limit overrides on top of
// every tier's defaults.
func WithLimitOverrides(overrides ratelimit.Limits) Option {
	return func(r *Runtime) {
		r.overrides = overrides
	}
}

// Runtime is the execution governance facade. It is the only component
// that pairs admission accounting with tracking: RecordExecution happens
// only after a successful Track, and CompleteExecution only on Remove,
// so the concurrent counter and the tracker drift only when a caller
// bypasses the facade. Reconcile repairs that drift.
//
// History writes (execution rows, events, audit records) are
// best-effort: a failing repository is logged and never blocks the
// governance path. Reads (Execution, AuditTrail, Statistics) propagate
// repository errors.
type Runtime struct {
	config    *core.Config
	logger    core.Logger
	limiter   *ratelimit.Limiter
	builder   *execution.Builder
	tracker   *execution.Tracker
	engine    *escalation.Engine
	repo      storage.Repository
	sweeper   *storage.RetentionSweeper
	telemetry *telemetry.Provider

	rules     []escalation.Rule
	overrides ratelimit.Limits

	closed atomic.Bool
}

// New assembles a Runtime from the config. A nil config gets defaults.
func New(config *core.Config, opts ...Option) (*Runtime, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{config: config}
	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		logger, err := core.NewLoggerFromConfig(config.Logging)
		if err != nil {
			return nil, err
		}
		r.logger = logger
	}

	if config.Telemetry.Enabled {
		provider, err := telemetry.Init(config.Telemetry)
		if err != nil {
			r.logger.Warn("Telemetry initialization failed, continuing without export", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			r.telemetry = provider
		}
	}

	if r.repo == nil {
		repo, err := newRepository(config.Storage, r.logger)
		if err != nil {
			return nil, err
		}
		r.repo = repo
	}
	if config.Storage.CircuitBreaker {
		r.repo = storage.NewBreakerRepository(r.repo, nil, storage.WithBreakerLogger(r.logger))
	}

	r.limiter = ratelimit.NewLimiter(
		&ratelimit.Config{DefaultTier: config.RateLimit.DefaultTier, Overrides: r.overrides},
		ratelimit.WithLogger(r.logger),
	)
	r.builder = execution.NewBuilder(execution.WithBuilderLogger(r.logger))
	r.tracker = execution.NewTracker(execution.WithTrackerLogger(r.logger))

	engineRules := r.rules
	if config.Escalation.RulesFile != "" {
		loaded, err := escalation.LoadRulesFile(config.Escalation.RulesFile)
		if err != nil {
			return nil, err
		}
		engineRules = append(engineRules, loaded...)
	}
	r.engine = escalation.NewEngine(
		&escalation.Config{CheckInterval: config.Escalation.CheckInterval},
		escalation.WithLogger(r.logger),
		escalation.WithTerminateFunc(r.terminateExecution),
		escalation.WithExpireFunc(r.escalationExpired),
		escalation.WithRules(engineRules...),
	)

	r.sweeper = storage.NewRetentionSweeper(r.repo, &storage.SweeperConfig{
		Retention: config.Storage.Retention,
		Interval:  config.Storage.SweepInterval,
	}, storage.WithSweeperLogger(r.logger))

	r.logger.Info("Runtime assembled", map[string]interface{}{
		"service":      config.ServiceName,
		"storage":      config.Storage.Provider,
		"default_tier": config.RateLimit.DefaultTier,
		"rules":        len(engineRules),
	})
	return r, nil
}

func newRepository(cfg core.StorageConfig, logger core.Logger) (storage.Repository, error) {
	switch cfg.Provider {
	case "redis":
		return storage.NewRedisRepository(cfg.RedisURL,
			storage.WithRedisLogger(logger),
			storage.WithRedisKeyPrefix(cfg.KeyPrefix))
	default:
		return storage.NewMemoryRepository(), nil
	}
}

// Start launches the escalation timeout scanner and the retention
// sweeper. The runtime is usable without Start; only the periodic tasks
// depend on it.
func (r *Runtime) Start(ctx context.Context) error {
	if r.closed.Load() {
		return core.ErrRuntimeClosed
	}
	r.engine.Start(ctx)
	r.sweeper.Start(ctx)
	return nil
}

// BeginParams carries the inputs for starting one governed execution.
// Intent, Decision, and Cancel are required; everything else defaults.
type BeginParams struct {
	Intent   *core.Intent
	Decision *core.Decision
	TenantID string
	Tier     string
	Handler  string
	Limits   *core.ResourceLimits
	Priority int
	Metadata map[string]interface{}

	// Cancel is the cooperative cancellation handle for the work; the
	// tracker signals it, the execution observes it.
	Cancel core.CancelHandle

	// Monitor optionally reports the execution's resource consumption.
	Monitor core.ResourceMonitor
}

// AdmitRequest checks the request-rate horizons for the tenant and, when
// allowed, consumes a slot. The returned Admission converts to HTTP
// headers either way; on denial the error matches core.IsAdmissionDenied
// and an audit record is written.
func (r *Runtime) AdmitRequest(ctx context.Context, tenantID, tier string) (ratelimit.Admission, error) {
	if r.closed.Load() {
		return ratelimit.Admission{}, core.ErrRuntimeClosed
	}

	adm := r.limiter.CheckLimit(tenantID, tier)
	if !adm.Allowed {
		telemetry.AddSpanEvent(ctx, "admission.denied",
			attribute.String("tenant_id", tenantID),
			attribute.String("reason", adm.Reason),
		)
		r.audit(ctx, &storage.AuditRecord{
			TenantID:  tenantID,
			EventType: AuditAdmissionDenied,
			Severity:  "warning",
			Details:   map[string]interface{}{"reason": adm.Reason, "tier": tier},
		})
		return adm, adm.DenyError()
	}
	r.limiter.RecordRequest(tenantID)
	return adm, nil
}

// BeginExecution runs the full admission path for one unit of work:
// execution-limit check, context construction, tracking, and admission
// accounting, in that order. Accounting happens only after tracking
// succeeds so a rejected or duplicate execution never consumes a
// concurrent slot.
func (r *Runtime) BeginExecution(ctx context.Context, params BeginParams) (*core.ExecutionContext, error) {
	if r.closed.Load() {
		return nil, core.ErrRuntimeClosed
	}

	tenantID := params.TenantID
	if tenantID == "" && params.Intent != nil {
		tenantID = params.Intent.TenantID
	}

	adm := r.limiter.CheckExecutionLimit(tenantID, params.Tier)
	if !adm.Allowed {
		telemetry.AddSpanEvent(ctx, "admission.denied",
			attribute.String("tenant_id", tenantID),
			attribute.String("reason", adm.Reason),
		)
		r.audit(ctx, &storage.AuditRecord{
			TenantID:  tenantID,
			EventType: AuditAdmissionDenied,
			Severity:  "warning",
			IntentID:  intentID(params.Intent),
			Details:   map[string]interface{}{"reason": adm.Reason, "tier": params.Tier},
		})
		return nil, adm.DenyError()
	}

	// A live span on the caller's context seeds the execution's trace id
	// so the history row correlates with the caller's trace.
	tc := telemetry.GetTraceContext(ctx)

	ectx, err := r.builder.Build(execution.BuildParams{
		Intent:   params.Intent,
		Decision: params.Decision,
		TenantID: params.TenantID,
		Handler:  params.Handler,
		Limits:   params.Limits,
		TraceID:  tc.TraceID,
		Priority: params.Priority,
		Metadata: params.Metadata,
	})
	if err != nil {
		return nil, err
	}

	if err := r.tracker.Track(ectx.ExecutionID, ectx, params.Cancel); err != nil {
		return nil, err
	}
	r.limiter.RecordExecution(ectx.TenantID)

	if params.Monitor != nil {
		if err := r.tracker.SetResourceMonitor(ectx.ExecutionID, params.Monitor); err != nil {
			r.logger.Warn("Resource monitor attach failed", map[string]interface{}{
				"execution_id": ectx.ExecutionID,
				"error":        err.Error(),
			})
		}
	}

	telemetry.SetSpanAttributes(ctx,
		attribute.String("execution_id", ectx.ExecutionID),
		attribute.String("tenant_id", ectx.TenantID),
	)
	r.persistBegin(ctx, ectx)
	return ectx, nil
}

// FinishExecution completes the lifecycle of a tracked execution: final
// status, removal from the registry, release of the concurrent slot, and
// history persistence. Finishing an untracked execution fails with an
// error matching core.IsNotTracked.
func (r *Runtime) FinishExecution(ctx context.Context, executionID string, status core.ExecutionStatus, outputs map[string]interface{}, execErr error) error {
	if r.closed.Load() {
		return core.ErrRuntimeClosed
	}
	if !status.IsTerminal() {
		return &core.ValidationError{Field: "status", Message: fmt.Sprintf("%q is not a terminal status", status)}
	}

	if _, ok := r.tracker.Get(executionID); !ok {
		return &core.NotTrackedError{ExecutionID: executionID, Op: "finish"}
	}
	r.tracker.UpdateStatus(executionID, status)
	active, _ := r.tracker.Remove(executionID)
	r.limiter.CompleteExecution(active.TenantID)
	if active.Monitor != nil {
		active.Monitor.Stop()
	}
	if execErr != nil {
		telemetry.RecordSpanError(ctx, execErr)
	}

	r.persistFinish(ctx, active, status, outputs, execErr)
	return nil
}

// ReportUsage feeds a resource-usage snapshot for a tracked execution to
// the escalation engine. It returns the escalation record when a rule
// matched, nil otherwise. Reports for untracked executions warn and do
// nothing.
func (r *Runtime) ReportUsage(ctx context.Context, executionID string, usage core.ResourceUsage) (*escalation.Record, error) {
	if r.closed.Load() {
		return nil, core.ErrRuntimeClosed
	}
	active, ok := r.tracker.Get(executionID)
	if !ok {
		r.logger.Warn("Usage report for untracked execution", map[string]interface{}{
			"execution_id": executionID,
		})
		return nil, nil
	}
	return r.evaluate(ctx, active, escalation.EvaluationContext{
		ExecutionID: active.ExecutionID,
		TenantID:    active.TenantID,
		IntentID:    active.IntentID,
		HandlerName: active.HandlerName,
		Usage:       &usage,
	}, nil), nil
}

// ReportFailure feeds an execution failure to the escalation engine.
// ConsecutiveFailures is the caller's count of back-to-back failures for
// this handler; rules with a failure threshold compare against it.
func (r *Runtime) ReportFailure(ctx context.Context, executionID string, execErr error, consecutiveFailures int) (*escalation.Record, error) {
	if r.closed.Load() {
		return nil, core.ErrRuntimeClosed
	}
	active, ok := r.tracker.Get(executionID)
	if !ok {
		r.logger.Warn("Failure report for untracked execution", map[string]interface{}{
			"execution_id": executionID,
		})
		return nil, nil
	}
	return r.evaluate(ctx, active, escalation.EvaluationContext{
		ExecutionID:         active.ExecutionID,
		TenantID:            active.TenantID,
		IntentID:            active.IntentID,
		HandlerName:         active.HandlerName,
		Error:               execErr,
		ConsecutiveFailures: consecutiveFailures,
	}, nil), nil
}

// ReportViolation feeds a sandbox violation to the escalation engine.
// The violation is carried onto any resulting escalation record.
func (r *Runtime) ReportViolation(ctx context.Context, executionID string, violation core.Violation) (*escalation.Record, error) {
	if r.closed.Load() {
		return nil, core.ErrRuntimeClosed
	}
	active, ok := r.tracker.Get(executionID)
	if !ok {
		r.logger.Warn("Violation report for untracked execution", map[string]interface{}{
			"execution_id": executionID,
		})
		return nil, nil
	}
	return r.evaluate(ctx, active, escalation.EvaluationContext{
		ExecutionID: active.ExecutionID,
		TenantID:    active.TenantID,
		IntentID:    active.IntentID,
		HandlerName: active.HandlerName,
		Violation:   &violation,
	}, &violation), nil
}

// evaluate runs the rule engine over the signal bundle and escalates on
// the first match, persisting and auditing the record.
func (r *Runtime) evaluate(ctx context.Context, active execution.ActiveExecution, evalCtx escalation.EvaluationContext, violation *core.Violation) *escalation.Record {
	rule, matched := r.engine.Evaluate(evalCtx)
	if !matched {
		return nil
	}

	reason := fmt.Sprintf("rule %q matched", rule.Name)
	record := r.engine.Escalate(active.ExecutionID, active.TenantID, active.IntentID, rule, reason, violation)

	telemetry.AddSpanEvent(ctx, "escalation.created",
		attribute.String("escalation_id", record.ID),
		attribute.String("rule", rule.Name),
	)
	if err := r.repo.CreateEscalation(ctx, record); err != nil {
		r.logger.Error("Escalation persistence failed", map[string]interface{}{
			"escalation_id": record.ID,
			"error":         err.Error(),
		})
	}
	r.audit(ctx, &storage.AuditRecord{
		TenantID:    active.TenantID,
		EventType:   AuditEscalationCreated,
		Severity:    string(record.Priority),
		ExecutionID: active.ExecutionID,
		IntentID:    active.IntentID,
		Details: map[string]interface{}{
			"escalation_id": record.ID,
			"rule":          rule.Name,
			"escalate_to":   record.EscalatedTo,
		},
	})
	return record
}

// AcknowledgeEscalation marks a pending escalation acknowledged and
// persists the transition.
func (r *Runtime) AcknowledgeEscalation(ctx context.Context, escalationID, actor string) error {
	if r.closed.Load() {
		return core.ErrRuntimeClosed
	}
	if !r.engine.Acknowledge(escalationID, actor) {
		return fmt.Errorf("escalation %s: %w", escalationID, core.ErrEscalationNotFound)
	}
	r.syncEscalation(ctx, escalationID)
	r.audit(ctx, &storage.AuditRecord{
		TenantID:  r.escalationTenant(escalationID),
		EventType: AuditEscalationAcknowledged,
		Actor:     actor,
		Details:   map[string]interface{}{"escalation_id": escalationID},
	})
	return nil
}

// ResolveEscalation resolves a pending or acknowledged escalation and
// persists the terminal record.
func (r *Runtime) ResolveEscalation(ctx context.Context, escalationID, actor, action, notes string) error {
	if r.closed.Load() {
		return core.ErrRuntimeClosed
	}
	record, ok := r.engine.Resolve(escalationID, actor, action, notes)
	if !ok {
		return fmt.Errorf("escalation %s: %w", escalationID, core.ErrEscalationNotFound)
	}
	if err := r.repo.UpdateEscalation(ctx, record); err != nil {
		r.logger.Error("Escalation persistence failed", map[string]interface{}{
			"escalation_id": record.ID,
			"error":         err.Error(),
		})
	}
	r.audit(ctx, &storage.AuditRecord{
		TenantID:    record.TenantID,
		EventType:   AuditEscalationResolved,
		ExecutionID: record.ExecutionID,
		Actor:       actor,
		Details: map[string]interface{}{
			"escalation_id": record.ID,
			"action":        action,
		},
	})
	return nil
}

// ActiveEscalations returns the pending and acknowledged escalations,
// optionally filtered by tenant. Empty tenant means all tenants.
func (r *Runtime) ActiveEscalations(tenantID string) []escalation.Record {
	return r.engine.GetActive(tenantID)
}

// AddRule appends an escalation rule, returning its id.
func (r *Runtime) AddRule(rule escalation.Rule) (string, error) {
	return r.engine.AddRule(rule)
}

// RemoveRule removes an escalation rule by id.
func (r *Runtime) RemoveRule(ruleID string) bool {
	return r.engine.RemoveRule(ruleID)
}

// SetTenantOverrides installs per-tenant rate-limit overrides.
func (r *Runtime) SetTenantOverrides(tenantID string, overrides ratelimit.Limits) {
	r.limiter.SetTenantOverrides(tenantID, overrides)
}

// CreateChild derives a child context from a tracked parent and tracks
// it under the same pairing discipline as BeginExecution. The child
// consumes its own concurrent slot.
func (r *Runtime) CreateChild(ctx context.Context, parentExecutionID string, overrides execution.ChildOverrides, cancel core.CancelHandle) (*core.ExecutionContext, error) {
	if r.closed.Load() {
		return nil, core.ErrRuntimeClosed
	}
	parent, ok := r.tracker.Get(parentExecutionID)
	if !ok {
		return nil, &core.NotTrackedError{ExecutionID: parentExecutionID, Op: "create_child"}
	}

	adm := r.limiter.CheckExecutionLimit(parent.TenantID, "")
	if !adm.Allowed {
		return nil, adm.DenyError()
	}

	child, err := r.builder.CreateChild(parent.Context, overrides)
	if err != nil {
		return nil, err
	}
	if err := r.tracker.Track(child.ExecutionID, child, cancel); err != nil {
		return nil, err
	}
	r.limiter.RecordExecution(child.TenantID)

	r.persistBegin(ctx, child)
	return child, nil
}

// CounterDrift describes one tenant whose concurrent-execution counter
// disagreed with the tracker before reconciliation.
type CounterDrift struct {
	TenantID string `json:"tenant_id"`
	Counter  int    `json:"counter"`
	Tracked  int    `json:"tracked"`
}

// Reconcile re-derives every tenant's concurrent-execution counter from
// the tracker, which is authoritative, and returns the drifts it
// repaired. Drift happens when a caller records an execution but never
// tracks it, or removes without completing; the structures are paired by
// discipline, not by transaction.
func (r *Runtime) Reconcile(ctx context.Context) []CounterDrift {
	tenants := make(map[string]struct{})
	for _, tenantID := range r.tracker.Tenants() {
		tenants[tenantID] = struct{}{}
	}
	for _, tenantID := range r.limiter.ConcurrentTenants() {
		tenants[tenantID] = struct{}{}
	}

	var drifts []CounterDrift
	for tenantID := range tenants {
		counter := r.limiter.ConcurrentCount(tenantID)
		tracked := r.tracker.CountByTenant(tenantID)
		if counter == tracked {
			continue
		}
		r.limiter.SetConcurrent(tenantID, tracked)
		drifts = append(drifts, CounterDrift{TenantID: tenantID, Counter: counter, Tracked: tracked})

		r.logger.Warn("Concurrent counter drift repaired", map[string]interface{}{
			"tenant_id": tenantID,
			"counter":   counter,
			"tracked":   tracked,
		})
		recordDriftRepaired(tenantID)
		r.audit(ctx, &storage.AuditRecord{
			TenantID:  tenantID,
			EventType: AuditCounterReconciled,
			Severity:  "warning",
			Details:   map[string]interface{}{"counter": counter, "tracked": tracked},
		})
	}
	return drifts
}

// TerminateAll cancels every non-terminal tracked execution. Entries
// stay registered; callers still finish them to release slots.
func (r *Runtime) TerminateAll(ctx context.Context, reason string) int {
	return r.tracker.TerminateAll(reason)
}

// Execution returns the persisted history row for an execution.
func (r *Runtime) Execution(ctx context.Context, executionID string) (*storage.ExecutionRecord, error) {
	return r.repo.GetExecution(ctx, executionID)
}

// AuditTrail queries the persisted audit records.
func (r *Runtime) AuditTrail(ctx context.Context, query storage.AuditQuery) ([]*storage.AuditRecord, error) {
	return r.repo.QueryAudit(ctx, query)
}

// Statistics aggregates a tenant's persisted execution history since the
// given time. A zero time means all history.
func (r *Runtime) Statistics(ctx context.Context, tenantID string, since time.Time) (*storage.ExecutionStats, error) {
	return r.repo.Statistics(ctx, tenantID, since)
}

// Shutdown stops the periodic tasks and closes the repository. Further
// operations fail with core.ErrRuntimeClosed. Shutdown does not cancel
// in-flight executions; call TerminateAll first when that is wanted.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}
	r.engine.Shutdown()
	r.sweeper.Stop()

	var firstErr error
	if err := r.repo.Close(); err != nil {
		firstErr = err
	}
	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.logger.Info("Runtime shut down", map[string]interface{}{
		"tracked": r.tracker.Count(),
	})
	return firstErr
}

// escalationExpired is the escalation engine's expiry observer: persist
// the expired record and leave an audit trail, mirroring what
// ResolveEscalation does for resolutions.
func (r *Runtime) escalationExpired(record escalation.Record) {
	ctx := context.Background()
	if err := r.repo.UpdateEscalation(ctx, &record); err != nil {
		r.logger.Error("Escalation persistence failed", map[string]interface{}{
			"escalation_id": record.ID,
			"error":         err.Error(),
		})
	}
	r.audit(ctx, &storage.AuditRecord{
		TenantID:    record.TenantID,
		EventType:   AuditEscalationExpired,
		Severity:    string(record.Priority),
		ExecutionID: record.ExecutionID,
		IntentID:    record.IntentID,
		Details: map[string]interface{}{
			"escalation_id": record.ID,
			"rule":          record.Rule.Name,
			"escalated_to":  record.EscalatedTo,
		},
	})
}

// terminateExecution is the escalation engine's auto-termination
// callback: signal the execution's cancel handle and mark it terminated.
// The execution stays tracked until its host finishes it.
func (r *Runtime) terminateExecution(executionID, reason string) error {
	active, ok := r.tracker.Get(executionID)
	if !ok {
		return nil
	}
	if active.Cancel != nil {
		if err := active.Cancel.Cancel(reason); err != nil {
			return err
		}
	}
	r.tracker.UpdateStatus(executionID, core.StatusTerminated)

	r.audit(context.Background(), &storage.AuditRecord{
		TenantID:    active.TenantID,
		EventType:   AuditExecutionTerminated,
		Severity:    "critical",
		ExecutionID: executionID,
		IntentID:    active.IntentID,
		Details:     map[string]interface{}{"reason": reason},
	})
	return nil
}

func (r *Runtime) persistBegin(ctx context.Context, ectx *core.ExecutionContext) {
	record := &storage.ExecutionRecord{
		ExecutionID: ectx.ExecutionID,
		TenantID:    ectx.TenantID,
		IntentID:    intentID(ectx.Intent),
		Handler:     ectx.Handler,
		Status:      core.StatusPending,
		Context:     ectx,
		Metadata:    ectx.Metadata,
		StartedAt:   ectx.CreatedAt,
	}
	if err := r.repo.CreateExecution(ctx, record); err != nil {
		r.logger.Error("Execution persistence failed", map[string]interface{}{
			"execution_id": ectx.ExecutionID,
			"error":        err.Error(),
		})
		return
	}
	r.appendEvent(ctx, ectx.ExecutionID, "tracked", "")
	r.audit(ctx, &storage.AuditRecord{
		TenantID:    ectx.TenantID,
		EventType:   AuditExecutionStarted,
		ExecutionID: ectx.ExecutionID,
		IntentID:    intentID(ectx.Intent),
	})
}

func (r *Runtime) persistFinish(ctx context.Context, active execution.ActiveExecution, status core.ExecutionStatus, outputs map[string]interface{}, execErr error) {
	record, err := r.repo.GetExecution(ctx, active.ExecutionID)
	if err != nil {
		r.logger.Error("Execution history lookup failed", map[string]interface{}{
			"execution_id": active.ExecutionID,
			"error":        err.Error(),
		})
		return
	}
	now := time.Now().UTC()
	record.Status = status
	record.Outputs = outputs
	record.CompletedAt = &now
	record.DurationMs = now.Sub(active.StartedAt).Milliseconds()
	if execErr != nil {
		record.Error = execErr.Error()
	}
	if err := r.repo.UpdateExecution(ctx, record); err != nil {
		r.logger.Error("Execution persistence failed", map[string]interface{}{
			"execution_id": active.ExecutionID,
			"error":        err.Error(),
		})
		return
	}
	r.appendEvent(ctx, active.ExecutionID, "finished", string(status))
	r.audit(ctx, &storage.AuditRecord{
		TenantID:    active.TenantID,
		EventType:   AuditExecutionFinished,
		ExecutionID: active.ExecutionID,
		IntentID:    active.IntentID,
		Details:     map[string]interface{}{"status": string(status)},
	})
}

func (r *Runtime) appendEvent(ctx context.Context, executionID, eventType, message string) {
	err := r.repo.AppendEvent(ctx, &storage.ExecutionEvent{
		ID:          fmt.Sprintf("ev-%s", uuid.New().String()),
		ExecutionID: executionID,
		Type:        eventType,
		Message:     message,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		r.logger.Error("Event persistence failed", map[string]interface{}{
			"execution_id": executionID,
			"error":        err.Error(),
		})
	}
}

// audit writes one audit record, best-effort. Failures are logged and
// counted, never surfaced.
func (r *Runtime) audit(ctx context.Context, record *storage.AuditRecord) {
	if record.ID == "" {
		record.ID = fmt.Sprintf("aud-%s", uuid.New().String())
	}
	if record.EventTime.IsZero() {
		record.EventTime = time.Now().UTC()
	}
	if err := r.repo.InsertAudit(ctx, record); err != nil {
		r.logger.Error("Audit persistence failed", map[string]interface{}{
			"event_type": record.EventType,
			"tenant_id":  record.TenantID,
			"error":      err.Error(),
		})
		recordAuditFailure(record.EventType)
	}
}

// syncEscalation mirrors the engine's view of one escalation into the
// repository.
func (r *Runtime) syncEscalation(ctx context.Context, escalationID string) {
	for _, record := range r.engine.GetActive("") {
		if record.ID != escalationID {
			continue
		}
		record := record
		if err := r.repo.UpdateEscalation(ctx, &record); err != nil {
			r.logger.Error("Escalation persistence failed", map[string]interface{}{
				"escalation_id": escalationID,
				"error":         err.Error(),
			})
		}
		return
	}
}

func (r *Runtime) escalationTenant(escalationID string) string {
	for _, record := range r.engine.GetActive("") {
		if record.ID == escalationID {
			return record.TenantID
		}
	}
	return ""
}

func intentID(intent *core.Intent) string {
	if intent == nil {
		return ""
	}
	return intent.ID
}
