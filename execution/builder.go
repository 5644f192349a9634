// Package execution constructs and tracks the runtime's units of work: the
// context builder validates intent/decision pairs and emits immutable
// execution contexts, and the tracker is the indexed registry of in-flight
// executions with cooperative cancellation.
package execution

import (
	"fmt"
	"time"

	"github.com/cognigate/cognigate/core"
)

// DefaultHandler is assigned when a caller does not name a handler.
const DefaultHandler = "default"

// BuildParams carries the inputs for one execution context. Intent and
// Decision are required; everything else has a default. TenantID falls
// back to the intent's tenant.
type BuildParams struct {
	Intent        *core.Intent
	Decision      *core.Decision
	TenantID      string
	Handler       string
	Limits        *core.ResourceLimits
	CorrelationID string
	TraceID       string
	Priority      int
	Metadata      map[string]interface{}
}

// ChildOverrides adjusts an inherited child context. Zero values inherit
// from the parent; Limits fields merge over the parent's limits.
type ChildOverrides struct {
	Limits            *core.ResourceLimits
	Handler           string
	Priority          int
	Metadata          map[string]interface{}
	ParentExecutionID string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the builder's logger.
func WithBuilderLogger(logger core.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDefaultLimits replaces the builder's baseline resource limits.
// Unset fields in the given limits fall back to the documented defaults.
func WithDefaultLimits(limits core.ResourceLimits) BuilderOption {
	return func(b *Builder) {
		b.defaults = core.DefaultResourceLimits().Merge(limits)
	}
}

// Builder validates intent/decision pairs and produces immutable
// execution contexts.
//
// Usage:
//
//	builder := execution.NewBuilder(execution.WithBuilderLogger(logger))
//	ctx, err := builder.Build(execution.BuildParams{Intent: intent, Decision: decision})
//	if err != nil {
//	    return err // core.IsValidationError(err) == true
//	}
type Builder struct {
	logger   core.Logger
	defaults core.ResourceLimits

	// now is the clock hook; tests override it for deterministic deadlines.
	now func() time.Time
}

// NewBuilder creates a Builder with the documented limit defaults.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		logger:   &core.NoOpLogger{},
		defaults: core.DefaultResourceLimits(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build validates the params and constructs a context. The returned
// context is complete: every identifier is set, limits are fully
// resolved, and the deadline is computed from the effective timeout.
func (b *Builder) Build(params BuildParams) (*core.ExecutionContext, error) {
	if err := b.checkPair(params.Intent, params.Decision); err != nil {
		return nil, err
	}

	tenantID := params.TenantID
	if tenantID == "" {
		tenantID = params.Intent.TenantID
	}
	if tenantID == "" {
		return nil, b.reject("tenant_id", "tenant id is required")
	}

	limits := b.defaults
	if params.Limits != nil {
		limits = limits.Merge(*params.Limits)
	}

	handler := params.Handler
	if handler == "" {
		handler = DefaultHandler
	}
	correlationID := params.CorrelationID
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	traceID := params.TraceID
	if traceID == "" {
		traceID = NewTraceID()
	}

	now := b.now()
	ctx := &core.ExecutionContext{
		ExecutionID:   NewExecutionID(),
		TenantID:      tenantID,
		Intent:        params.Intent,
		Decision:      params.Decision,
		Limits:        limits,
		Handler:       handler,
		CorrelationID: correlationID,
		TraceID:       traceID,
		SpanID:        NewSpanID(),
		Priority:      params.Priority,
		Metadata:      core.CopyMetadata(params.Metadata),
		CreatedAt:     now,
		Deadline:      now.Add(time.Duration(limits.TimeoutMs) * time.Millisecond),
	}

	b.logger.Debug("Execution context built", map[string]interface{}{
		"execution_id":   ctx.ExecutionID,
		"tenant_id":      ctx.TenantID,
		"intent_id":      params.Intent.ID,
		"correlation_id": ctx.CorrelationID,
		"timeout_ms":     limits.TimeoutMs,
	})
	recordContextBuilt("root")
	return ctx, nil
}

// Validate is the stand-alone post-hoc check for contexts that did not
// come out of Build on this process, such as contexts rehydrated from
// the repository.
func (b *Builder) Validate(ctx *core.ExecutionContext) error {
	if ctx == nil {
		return b.reject("context", "context is required")
	}
	if ctx.ExecutionID == "" {
		return b.reject("execution_id", "execution id is required")
	}
	if err := b.checkPair(ctx.Intent, ctx.Decision); err != nil {
		return err
	}
	if ctx.TenantID == "" {
		return b.reject("tenant_id", "tenant id is required")
	}
	if ctx.Limits.TimeoutMs <= 0 {
		return b.reject("resource_limits.timeout_ms", "timeout must be positive")
	}
	if ctx.Limits.MaxMemoryMB <= 0 {
		return b.reject("resource_limits.max_memory_mb", "memory limit must be positive")
	}
	if ctx.Handler == "" {
		return b.reject("handler", "handler must not be empty")
	}
	if ctx.Deadline.IsZero() {
		return b.reject("deadline", "deadline is required")
	}
	return nil
}

// CreateChild derives a child context from a parent. The child shares the
// parent's tenant, intent, decision, correlation id, trace id, handler,
// priority, and a copy of its metadata; it gets a fresh execution id,
// span id, and a deadline computed from the effective child timeout
// (override, else parent, else default). ParentExecutionID records the
// parentage link used for trace-tree reconstruction.
func (b *Builder) CreateChild(parent *core.ExecutionContext, overrides ChildOverrides) (*core.ExecutionContext, error) {
	if parent == nil {
		return nil, b.reject("parent", "parent context is required")
	}

	limits := parent.Limits
	if overrides.Limits != nil {
		limits = limits.Merge(*overrides.Limits)
	}
	if limits.TimeoutMs <= 0 {
		limits.TimeoutMs = b.defaults.TimeoutMs
	}

	handler := parent.Handler
	if overrides.Handler != "" {
		handler = overrides.Handler
	}
	priority := parent.Priority
	if overrides.Priority != 0 {
		priority = overrides.Priority
	}

	metadata := core.CopyMetadata(parent.Metadata)
	for k, v := range overrides.Metadata {
		metadata[k] = v
	}

	parentID := parent.ExecutionID
	if overrides.ParentExecutionID != "" {
		parentID = overrides.ParentExecutionID
	}

	now := b.now()
	child := &core.ExecutionContext{
		ExecutionID:       NewExecutionID(),
		TenantID:          parent.TenantID,
		Intent:            parent.Intent,
		Decision:          parent.Decision,
		Limits:            limits,
		Handler:           handler,
		ParentExecutionID: parentID,
		CorrelationID:     parent.CorrelationID,
		TraceID:           parent.TraceID,
		SpanID:            NewSpanID(),
		Priority:          priority,
		Metadata:          metadata,
		CreatedAt:         now,
		Deadline:          now.Add(time.Duration(limits.TimeoutMs) * time.Millisecond),
	}

	b.logger.Debug("Child execution context created", map[string]interface{}{
		"execution_id":        child.ExecutionID,
		"parent_execution_id": child.ParentExecutionID,
		"correlation_id":      child.CorrelationID,
		"timeout_ms":          limits.TimeoutMs,
	})
	recordContextBuilt("child")
	return child, nil
}

// checkPair enforces the intent/decision invariants shared by Build and
// Validate.
func (b *Builder) checkPair(intent *core.Intent, decision *core.Decision) error {
	if intent == nil {
		return b.reject("intent", "intent is required")
	}
	if decision == nil {
		return b.reject("decision", "decision is required")
	}
	if !decision.Action.Authorizes() {
		return b.reject("decision.action",
			fmt.Sprintf("decision action %q does not authorize execution", decision.Action))
	}
	if decision.IntentID != intent.ID {
		return b.reject("decision.intent_id",
			fmt.Sprintf("decision is for intent %q, not %q", decision.IntentID, intent.ID))
	}
	return nil
}

func (b *Builder) reject(field, message string) error {
	recordValidationFailure(field)
	return &core.ValidationError{Field: field, Message: message}
}
