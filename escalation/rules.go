package escalation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognigate/cognigate/core"
)

// Priority is advisory metadata carried from a rule onto the records it
// produces. It never affects matching: rules match in list order.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rule binds a trigger condition to an escalation recipient and a
// response deadline. Timeout is an ISO-8601 duration ("PT1H"); a
// malformed timeout degrades to FallbackTimeout when a record is
// created, never at rule registration.
type Rule struct {
	ID                     string                 `json:"id" yaml:"id"`
	Name                   string                 `json:"name" yaml:"name"`
	Condition              Condition              `json:"-" yaml:"-"`
	EscalateTo             string                 `json:"escalate_to" yaml:"escalate_to"`
	Timeout                string                 `json:"timeout" yaml:"timeout"`
	Priority               Priority               `json:"priority" yaml:"priority"`
	AutoTerminateOnTimeout bool                   `json:"auto_terminate_on_timeout,omitempty" yaml:"auto_terminate_on_timeout,omitempty"`
	RequireAcknowledgement bool                   `json:"require_acknowledgement,omitempty" yaml:"require_acknowledgement,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ruleWire is the serialized form of a Rule with the condition flattened
// into its tagged-union encoding.
type ruleWire struct {
	ID                     string                 `json:"id" yaml:"id"`
	Name                   string                 `json:"name" yaml:"name"`
	Condition              conditionJSON          `json:"condition" yaml:"condition"`
	EscalateTo             string                 `json:"escalate_to" yaml:"escalate_to"`
	Timeout                string                 `json:"timeout" yaml:"timeout"`
	Priority               Priority               `json:"priority" yaml:"priority"`
	AutoTerminateOnTimeout bool                   `json:"auto_terminate_on_timeout,omitempty" yaml:"auto_terminate_on_timeout,omitempty"`
	RequireAcknowledgement bool                   `json:"require_acknowledgement,omitempty" yaml:"require_acknowledgement,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (r Rule) wire() ruleWire {
	return ruleWire{
		ID:                     r.ID,
		Name:                   r.Name,
		Condition:              encodeCondition(r.Condition),
		EscalateTo:             r.EscalateTo,
		Timeout:                r.Timeout,
		Priority:               r.Priority,
		AutoTerminateOnTimeout: r.AutoTerminateOnTimeout,
		RequireAcknowledgement: r.RequireAcknowledgement,
		Metadata:               r.Metadata,
	}
}

func (r *Rule) fromWire(w ruleWire) error {
	condition, err := decodeCondition(w.Condition)
	if err != nil {
		return fmt.Errorf("rule %q: %w", w.ID, err)
	}
	r.ID = w.ID
	r.Name = w.Name
	r.Condition = condition
	r.EscalateTo = w.EscalateTo
	r.Timeout = w.Timeout
	r.Priority = w.Priority
	r.AutoTerminateOnTimeout = w.AutoTerminateOnTimeout
	r.RequireAcknowledgement = w.RequireAcknowledgement
	r.Metadata = w.Metadata
	return nil
}

// MarshalJSON encodes the rule with its condition in tagged-union form.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// UnmarshalJSON decodes a rule, rehydrating the condition variant. A
// custom condition decodes without its predicate and never matches until
// one is re-attached.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return r.fromWire(w)
}

// MarshalYAML encodes the rule for rule files.
func (r Rule) MarshalYAML() (interface{}, error) {
	return r.wire(), nil
}

// UnmarshalYAML decodes a rule from a rule file.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var w ruleWire
	if err := value.Decode(&w); err != nil {
		return err
	}
	return r.fromWire(w)
}

// RecordStatus is the lifecycle state of an escalation record.
type RecordStatus string

const (
	RecordPending      RecordStatus = "pending"
	RecordAcknowledged RecordStatus = "acknowledged"
	RecordResolved     RecordStatus = "resolved"
	RecordExpired      RecordStatus = "expired"
)

// IsTerminal reports whether the status admits no further transitions.
// Terminal records are removed from the engine's active map.
func (s RecordStatus) IsTerminal() bool {
	return s == RecordResolved || s == RecordExpired
}

// Record is one raised escalation. The rule is embedded by value so the
// record stays meaningful after the rule list changes.
type Record struct {
	ID               string          `json:"id"`
	ExecutionID      string          `json:"execution_id"`
	TenantID         string          `json:"tenant_id"`
	IntentID         string          `json:"intent_id,omitempty"`
	Rule             Rule            `json:"rule"`
	Reason           string          `json:"reason"`
	Priority         Priority        `json:"priority"`
	Status           RecordStatus    `json:"status"`
	EscalatedTo      string          `json:"escalated_to"`
	Violation        *core.Violation `json:"violation,omitempty"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	ResolutionAction string          `json:"resolution_action,omitempty"`
	ResolutionNotes  string          `json:"resolution_notes,omitempty"`
	TimeoutAt        time.Time       `json:"timeout_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// rulesFile is the top-level shape of a YAML rule file.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads escalation rules from a YAML file. Only the
// data-serializable condition forms are allowed; custom conditions are
// code and must be registered programmatically.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", path, err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	for i := range file.Rules {
		rule := &file.Rules[i]
		if rule.Condition != nil && rule.Condition.Kind() == KindCustom {
			return nil, fmt.Errorf("rule %q: custom conditions cannot be loaded from a file", rule.ID)
		}
		if err := validateRule(*rule); err != nil {
			return nil, fmt.Errorf("rules file %s: %w", path, err)
		}
	}
	return file.Rules, nil
}

// validateRule checks the fields every registered rule must carry.
func validateRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule %q: name is required", rule.ID)
	}
	if rule.Condition == nil {
		return fmt.Errorf("rule %q: condition is required", rule.ID)
	}
	if rule.Priority != "" && !rule.Priority.Valid() {
		return fmt.Errorf("rule %q: unknown priority %q", rule.ID, rule.Priority)
	}
	return nil
}
