// Package escalation evaluates rules against execution signals and manages
// the lifecycle of the escalation records those rules produce: creation,
// acknowledgement, resolution, and timeout expiry with optional
// auto-termination of the offending execution.
package escalation

import (
	"fmt"

	"github.com/cognigate/cognigate/core"
)

// ConditionKind discriminates the condition variants for serialization.
type ConditionKind string

const (
	KindResourceExceeded ConditionKind = "resource_exceeded"
	KindExecutionFailed  ConditionKind = "execution_failed"
	KindTimeoutExceeded  ConditionKind = "timeout_exceeded"
	KindSandboxViolation ConditionKind = "sandbox_violation"
	KindTrustBelow       ConditionKind = "trust_below"
	KindCustom           ConditionKind = "custom"
)

// Condition is the closed set of rule trigger forms. The unexported
// marker keeps the set closed: matching switches exhaustively over the
// variants below and treats anything else as a defect.
//
// All variants except Custom are plain data and serialize to and from
// rule files; Custom carries an injected predicate and exists only in
// code.
type Condition interface {
	Kind() ConditionKind
	isCondition()
}

// ResourceExceeded matches when the named resource-usage field is
// present and strictly above the threshold. Field names accept both
// camelCase ("memoryMb") and snake_case ("memory_mb").
type ResourceExceeded struct {
	Resource  string  `json:"resource" yaml:"resource"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

func (ResourceExceeded) Kind() ConditionKind { return KindResourceExceeded }
func (ResourceExceeded) isCondition()        {}

// ExecutionFailed matches when the evaluation carries an error. An empty
// HandlerName matches any handler; a zero ConsecutiveFailures matches
// any failure count, otherwise the context count must be at least it.
type ExecutionFailed struct {
	HandlerName         string `json:"handler_name,omitempty" yaml:"handler_name,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty" yaml:"consecutive_failures,omitempty"`
}

func (ExecutionFailed) Kind() ConditionKind { return KindExecutionFailed }
func (ExecutionFailed) isCondition()        {}

// TimeoutExceeded matches when the execution's wall time is strictly
// above the threshold.
type TimeoutExceeded struct {
	ThresholdMs int64 `json:"threshold_ms" yaml:"threshold_ms"`
}

func (TimeoutExceeded) Kind() ConditionKind { return KindTimeoutExceeded }
func (TimeoutExceeded) isCondition()        {}

// SandboxViolation matches a reported violation of the given type.
type SandboxViolation struct {
	ViolationType string `json:"violation_type" yaml:"violation_type"`
}

func (SandboxViolation) Kind() ConditionKind { return KindSandboxViolation }
func (SandboxViolation) isCondition()        {}

// TrustBelow matches when the evaluation carries a trust level strictly
// below Level. An absent trust level never matches.
type TrustBelow struct {
	Level int `json:"level" yaml:"level"`
}

func (TrustBelow) Kind() ConditionKind { return KindTrustBelow }
func (TrustBelow) isCondition()        {}

// Predicate is the injected capability behind a Custom condition.
type Predicate interface {
	Evaluate(ctx EvaluationContext) (bool, error)
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(ctx EvaluationContext) (bool, error)

// Evaluate calls f.
func (f PredicateFunc) Evaluate(ctx EvaluationContext) (bool, error) { return f(ctx) }

// Custom matches whatever its predicate says. Predicate errors and
// panics are contained by the engine and treated as non-matches, so one
// bad rule cannot take the engine down. Custom conditions are code, not
// config: they cannot be loaded from a rules file, and a rehydrated
// Custom with no predicate never matches.
type Custom struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Predicate Predicate
}

func (Custom) Kind() ConditionKind { return KindCustom }
func (Custom) isCondition()        {}

// EvaluationContext is the signal bundle a caller assembles when asking
// the engine whether anything warrants escalation. Unset pointers mean
// "no such signal".
type EvaluationContext struct {
	ExecutionID         string
	TenantID            string
	IntentID            string
	HandlerName         string
	Error               error
	ConsecutiveFailures int
	Usage               *core.ResourceUsage
	Violation           *core.Violation
	TrustLevel          *int
	Fields              map[string]interface{}
}

// conditionJSON is the serialized tagged-union form of a Condition.
type conditionJSON struct {
	Type                ConditionKind `json:"type" yaml:"type"`
	Resource            string        `json:"resource,omitempty" yaml:"resource,omitempty"`
	Threshold           float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	HandlerName         string        `json:"handler_name,omitempty" yaml:"handler_name,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures,omitempty" yaml:"consecutive_failures,omitempty"`
	ThresholdMs         int64         `json:"threshold_ms,omitempty" yaml:"threshold_ms,omitempty"`
	ViolationType       string        `json:"violation_type,omitempty" yaml:"violation_type,omitempty"`
	Level               int           `json:"level,omitempty" yaml:"level,omitempty"`
	Name                string        `json:"name,omitempty" yaml:"name,omitempty"`
}

func encodeCondition(c Condition) conditionJSON {
	switch v := c.(type) {
	case ResourceExceeded:
		return conditionJSON{Type: KindResourceExceeded, Resource: v.Resource, Threshold: v.Threshold}
	case ExecutionFailed:
		return conditionJSON{Type: KindExecutionFailed, HandlerName: v.HandlerName, ConsecutiveFailures: v.ConsecutiveFailures}
	case TimeoutExceeded:
		return conditionJSON{Type: KindTimeoutExceeded, ThresholdMs: v.ThresholdMs}
	case SandboxViolation:
		return conditionJSON{Type: KindSandboxViolation, ViolationType: v.ViolationType}
	case TrustBelow:
		return conditionJSON{Type: KindTrustBelow, Level: v.Level}
	case Custom:
		return conditionJSON{Type: KindCustom, Name: v.Name}
	}
	return conditionJSON{}
}

func decodeCondition(cj conditionJSON) (Condition, error) {
	switch cj.Type {
	case KindResourceExceeded:
		if cj.Resource == "" {
			return nil, fmt.Errorf("resource_exceeded condition requires a resource")
		}
		return ResourceExceeded{Resource: cj.Resource, Threshold: cj.Threshold}, nil
	case KindExecutionFailed:
		return ExecutionFailed{HandlerName: cj.HandlerName, ConsecutiveFailures: cj.ConsecutiveFailures}, nil
	case KindTimeoutExceeded:
		return TimeoutExceeded{ThresholdMs: cj.ThresholdMs}, nil
	case KindSandboxViolation:
		if cj.ViolationType == "" {
			return nil, fmt.Errorf("sandbox_violation condition requires a violation type")
		}
		return SandboxViolation{ViolationType: cj.ViolationType}, nil
	case KindTrustBelow:
		return TrustBelow{Level: cj.Level}, nil
	case KindCustom:
		// The predicate is code and cannot be rehydrated; the decoded
		// condition never matches until one is re-attached.
		return Custom{Name: cj.Name}, nil
	}
	return nil, fmt.Errorf("unknown condition type %q", cj.Type)
}
