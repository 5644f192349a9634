package escalation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cognigate/cognigate/core"
)

// DefaultCheckInterval is how often the timeout scanner sweeps active
// records when the caller does not configure an interval.
const DefaultCheckInterval = 30 * time.Second

// TimeoutReason is the cancellation reason passed to the termination
// callback when an auto-terminating record expires.
const TimeoutReason = "escalation timeout"

// TerminateFunc aborts an execution on behalf of an expired record whose
// rule set AutoTerminateOnTimeout. The engine invokes it at most once
// per record.
type TerminateFunc func(executionID, reason string) error

// ExpireFunc observes a record the timeout scanner has expired, after it
// has left the active map. The engine invokes it exactly once per
// record; hosts use it to persist and audit the expiry.
type ExpireFunc func(record Record)

// Config carries the engine's data configuration.
type Config struct {
	// CheckInterval is the timeout scanner's sweep period.
	CheckInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{CheckInterval: DefaultCheckInterval}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger core.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTerminateFunc installs the execution-termination callback invoked
// when an auto-terminating record expires.
func WithTerminateFunc(fn TerminateFunc) Option {
	return func(e *Engine) {
		e.terminate = fn
	}
}

// WithExpireFunc installs the expiry observer invoked for every record
// the timeout scanner expires.
func WithExpireFunc(fn ExpireFunc) Option {
	return func(e *Engine) {
		e.expire = fn
	}
}

// WithRules registers initial rules in order.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) {
		for _, rule := range rules {
			_, _ = e.AddRule(rule)
		}
	}
}

// Engine evaluates rules against execution signals and owns the
// lifecycle of the escalation records it raises. Matching is first-match
// in rule list order; a rule's priority is advisory metadata on the
// resulting record, never a matching input.
//
// Usage:
//
//	engine := escalation.NewEngine(nil,
//	    escalation.WithLogger(logger),
//	    escalation.WithTerminateFunc(abortExecution),
//	)
//	engine.Start(ctx)
//	defer engine.Shutdown()
//
//	if rule, ok := engine.Evaluate(evalCtx); ok {
//	    engine.Escalate(execID, tenantID, intentID, rule, "memory limit breached", nil)
//	}
type Engine struct {
	mu     sync.Mutex
	config *Config
	logger core.Logger

	rules     []Rule
	active    map[string]*Record
	terminate TerminateFunc
	expire    ExpireFunc

	// Scanner lifecycle. One mutex serializes Start and Stop so the
	// cancel func is never written and read concurrently.
	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// now is the clock hook; tests override it for deterministic deadlines.
	now func() time.Time
}

// NewEngine creates an Engine. A nil config gets defaults.
func NewEngine(config *Config, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}

	e := &Engine{
		config: config,
		logger: &core.NoOpLogger{},
		active: make(map[string]*Record),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule appends a rule to the end of the evaluation order and returns
// its id, generating one when the rule has none. Duplicate ids are
// rejected so RemoveRule stays unambiguous.
func (e *Engine) AddRule(rule Rule) (string, error) {
	if err := validateRule(rule); err != nil {
		return "", err
	}
	if rule.ID == "" {
		rule.ID = NewRuleID()
	}
	if rule.Priority == "" {
		rule.Priority = PriorityMedium
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.ID == rule.ID {
			return "", fmt.Errorf("escalation rule %q already registered", rule.ID)
		}
	}
	e.rules = append(e.rules, rule)

	e.logger.Info("Escalation rule registered", map[string]interface{}{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"condition": string(rule.Condition.Kind()),
		"priority":  string(rule.Priority),
	})
	return rule.ID, nil
}

// RemoveRule deletes a rule by id, preserving the order of the rest.
func (e *Engine) RemoveRule(ruleID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, rule := range e.rules {
		if rule.ID == ruleID {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// GetRule returns the rule with the given id.
func (e *Engine) GetRule(ruleID string) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range e.rules {
		if rule.ID == ruleID {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules returns the rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the first rule whose condition matches the context.
// Rules are tried strictly in registration order.
func (e *Engine) Evaluate(ctx EvaluationContext) (Rule, bool) {
	e.mu.Lock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	for _, rule := range rules {
		if e.matches(rule, ctx) {
			recordRuleMatched(string(rule.Condition.Kind()))
			return rule, true
		}
	}
	return Rule{}, false
}

// matches applies one condition to the evaluation context. Custom
// predicates are contained: errors and panics are logged and treated as
// non-matches.
func (e *Engine) matches(rule Rule, ctx EvaluationContext) bool {
	switch c := rule.Condition.(type) {
	case ResourceExceeded:
		if ctx.Usage == nil {
			return false
		}
		value, ok := ctx.Usage.Value(c.Resource)
		return ok && value > c.Threshold
	case ExecutionFailed:
		if ctx.Error == nil {
			return false
		}
		if c.HandlerName != "" && ctx.HandlerName != c.HandlerName {
			return false
		}
		if c.ConsecutiveFailures > 0 && ctx.ConsecutiveFailures < c.ConsecutiveFailures {
			return false
		}
		return true
	case TimeoutExceeded:
		return ctx.Usage != nil && ctx.Usage.WallTimeMs > c.ThresholdMs
	case SandboxViolation:
		return ctx.Violation != nil && ctx.Violation.Type == c.ViolationType
	case TrustBelow:
		return ctx.TrustLevel != nil && *ctx.TrustLevel < c.Level
	case Custom:
		return e.evaluatePredicate(rule, c, ctx)
	}
	return false
}

// evaluatePredicate runs a custom predicate with full containment.
func (e *Engine) evaluatePredicate(rule Rule, c Custom, ctx EvaluationContext) (matched bool) {
	if c.Predicate == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Custom predicate panicked", map[string]interface{}{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"panic":     fmt.Sprintf("%v", r),
				"stack":     string(debug.Stack()),
			})
			recordPredicateFailure(rule.ID)
			matched = false
		}
	}()

	ok, err := c.Predicate.Evaluate(ctx)
	if err != nil {
		e.logger.Warn("Custom predicate failed", map[string]interface{}{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"error":     err.Error(),
		})
		recordPredicateFailure(rule.ID)
		return false
	}
	return ok
}

// Escalate raises a pending record for a matched rule. The record's
// response deadline is now plus the rule's ISO-8601 timeout; a
// malformed timeout degrades to FallbackTimeout with a warning.
func (e *Engine) Escalate(executionID, tenantID, intentID string, rule Rule, reason string, violation *core.Violation) *Record {
	now := e.now()

	timeout, err := ParseTimeout(rule.Timeout)
	if err != nil {
		e.logger.Warn("Malformed rule timeout, using fallback", map[string]interface{}{
			"rule_id":  rule.ID,
			"timeout":  rule.Timeout,
			"fallback": FallbackTimeout.String(),
			"error":    err.Error(),
		})
		timeout = FallbackTimeout
	}

	record := &Record{
		ID:          NewRecordID(),
		ExecutionID: executionID,
		TenantID:    tenantID,
		IntentID:    intentID,
		Rule:        rule,
		Reason:      reason,
		Priority:    rule.Priority,
		Status:      RecordPending,
		EscalatedTo: rule.EscalateTo,
		Violation:   violation,
		TimeoutAt:   now.Add(timeout),
		CreatedAt:   now,
	}

	e.mu.Lock()
	e.active[record.ID] = record
	activeCount := len(e.active)
	e.mu.Unlock()

	e.logger.Info("Escalation created", map[string]interface{}{
		"escalation_id": record.ID,
		"execution_id":  executionID,
		"tenant_id":     tenantID,
		"rule_id":       rule.ID,
		"priority":      string(record.Priority),
		"escalated_to":  record.EscalatedTo,
		"timeout_at":    record.TimeoutAt.UTC().Format(time.RFC3339),
	})
	recordEscalationCreated(string(record.Priority))
	recordActiveCount(activeCount)

	out := *record
	return &out
}

// Acknowledge moves a pending record to acknowledged. Anything else,
// including an unknown id, is a warn no-op.
func (e *Engine) Acknowledge(recordID, actor string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.active[recordID]
	if !ok {
		e.logger.Warn("Acknowledge of unknown escalation", map[string]interface{}{
			"escalation_id": recordID,
			"actor":         actor,
		})
		return false
	}
	if record.Status != RecordPending {
		e.logger.Warn("Acknowledge of non-pending escalation", map[string]interface{}{
			"escalation_id": recordID,
			"status":        string(record.Status),
			"actor":         actor,
		})
		return false
	}

	record.Status = RecordAcknowledged
	e.logger.Info("Escalation acknowledged", map[string]interface{}{
		"escalation_id": recordID,
		"actor":         actor,
	})
	recordEscalationAcknowledged()
	return true
}

// Resolve finalizes a pending or acknowledged record and removes it from
// the active map. Terminal or unknown records are a warn no-op. The
// resolved record is returned so callers can persist the final state.
func (e *Engine) Resolve(recordID, actor, action, notes string) (*Record, bool) {
	e.mu.Lock()

	record, ok := e.active[recordID]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn("Resolve of unknown escalation", map[string]interface{}{
			"escalation_id": recordID,
			"actor":         actor,
		})
		return nil, false
	}

	now := e.now()
	record.Status = RecordResolved
	record.ResolvedBy = actor
	record.ResolvedAt = &now
	record.ResolutionAction = action
	record.ResolutionNotes = notes
	delete(e.active, recordID)
	activeCount := len(e.active)
	out := *record
	e.mu.Unlock()

	e.logger.Info("Escalation resolved", map[string]interface{}{
		"escalation_id": recordID,
		"actor":         actor,
		"action":        action,
	})
	recordEscalationResolved(action)
	recordActiveCount(activeCount)
	return &out, true
}

// GetActive returns copies of the records still awaiting a response,
// optionally filtered to one tenant. Pass "" for all tenants.
func (e *Engine) GetActive(tenantID string) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Record
	for _, record := range e.active {
		if tenantID != "" && record.TenantID != tenantID {
			continue
		}
		out = append(out, *record)
	}
	return out
}

// GetPending returns copies of the records no one has acknowledged yet.
func (e *Engine) GetPending() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Record
	for _, record := range e.active {
		if record.Status == RecordPending {
			out = append(out, *record)
		}
	}
	return out
}

// CheckTimeouts expires every active record whose response deadline has
// passed and returns the expired records. The expiry observer and, for
// auto-terminating rules, the termination callback are invoked exactly
// once per record, after the record has left the active map, so a
// concurrent resolve cannot double-finalize.
func (e *Engine) CheckTimeouts() []Record {
	now := e.now()

	e.mu.Lock()
	var expired []*Record
	for id, record := range e.active {
		if record.TimeoutAt.After(now) {
			continue
		}
		record.Status = RecordExpired
		delete(e.active, id)
		expired = append(expired, record)
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}

	out := make([]Record, 0, len(expired))
	for _, record := range expired {
		e.logger.Warn("Escalation timed out", map[string]interface{}{
			"escalation_id": record.ID,
			"execution_id":  record.ExecutionID,
			"tenant_id":     record.TenantID,
			"rule_id":       record.Rule.ID,
			"escalated_to":  record.EscalatedTo,
		})
		recordEscalationExpired(string(record.Priority))

		if e.expire != nil {
			e.expire(*record)
		}
		if record.Rule.AutoTerminateOnTimeout && e.terminate != nil {
			if err := e.terminate(record.ExecutionID, TimeoutReason); err != nil {
				e.logger.Error("Auto-termination failed", map[string]interface{}{
					"escalation_id": record.ID,
					"execution_id":  record.ExecutionID,
					"error":         err.Error(),
				})
			} else {
				recordAutoTermination()
			}
		}
		out = append(out, *record)
	}
	recordActiveCount(activeCount)
	return out
}

// Start launches the periodic timeout scanner. Starting a running
// scanner restarts it, picking up a changed interval; the scanner stops
// when ctx is canceled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopLocked()

	scanCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go e.scanLoop(scanCtx)

	e.logger.Info("Escalation timeout scanner started", map[string]interface{}{
		"check_interval": e.config.CheckInterval.String(),
	})
}

// Stop halts the timeout scanner. Stopping a stopped scanner is a no-op.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopLocked()
}

// stopLocked halts the scanner. Callers hold e.lifecycle. The scan loop
// never touches the lifecycle mutex, so waiting under it cannot
// deadlock.
func (e *Engine) stopLocked() {
	if !e.running {
		return
	}
	e.running = false
	e.cancel()
	e.cancel = nil
	e.wg.Wait()
}

// scanLoop drives the periodic sweep. Panics in a sweep are recovered so
// one bad cycle cannot kill the scanner.
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.safeCheckTimeouts()
		}
	}
}

func (e *Engine) safeCheckTimeouts() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Timeout sweep panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			})
		}
	}()
	e.CheckTimeouts()
}

// Shutdown stops the scanner and clears the active map. Records still
// active at shutdown are logged at warn level; that is an observability
// signal, not an error.
func (e *Engine) Shutdown() {
	e.Stop()

	e.mu.Lock()
	remaining := len(e.active)
	e.active = make(map[string]*Record)
	e.mu.Unlock()

	if remaining > 0 {
		e.logger.Warn("Escalations still active at shutdown", map[string]interface{}{
			"count": remaining,
		})
	}
	recordActiveCount(0)
}

// NewRuleID returns a fresh escalation-rule identifier.
func NewRuleID() string {
	return fmt.Sprintf("rule-%s", uuid.New().String()[:16])
}

// NewRecordID returns a fresh escalation-record identifier.
func NewRecordID() string {
	return fmt.Sprintf("esc-%s", uuid.New().String())
}
