package core

import (
	"time"
)

// DecisionAction is the authorization verdict attached to an intent by the
// upstream policy engine. Only allow and monitor actions may proceed to
// execution; everything else is rejected during context construction.
type DecisionAction string

const (
	// ActionAllow authorizes the intent for execution
	ActionAllow DecisionAction = "allow"

	// ActionMonitor authorizes execution under heightened observation
	ActionMonitor DecisionAction = "monitor"

	// ActionDeny blocks the intent; denied decisions never reach execution
	ActionDeny DecisionAction = "deny"
)

// Authorizes reports whether the action permits execution.
func (a DecisionAction) Authorizes() bool {
	return a == ActionAllow || a == ActionMonitor
}

// Intent is a client-authored request to perform work, already admitted by
// an upstream policy layer. The runtime consumes intents; it never creates
// or interprets them.
type Intent struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at,omitempty"`
}

// Decision is the upstream authorization verdict for a single intent.
// Decision.IntentID must match the intent it accompanies.
type Decision struct {
	ID        string                 `json:"id,omitempty"`
	IntentID  string                 `json:"intent_id"`
	Action    DecisionAction         `json:"action"`
	Reason    string                 `json:"reason,omitempty"`
	DecidedBy string                 `json:"decided_by,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
}

// Resource limit defaults applied when a caller leaves a field unset.
const (
	DefaultMaxMemoryMB         = 512
	DefaultMaxCPUPercent       = 80
	DefaultTimeoutMs           = 300_000
	DefaultMaxNetworkRequests  = 100
	DefaultMaxFileSystemOps    = 1_000
	DefaultMaxConcurrentOps    = 10
	DefaultMaxPayloadSizeBytes = 10 * 1024 * 1024
	DefaultMaxRetries          = 3
	DefaultNetworkTimeoutMs    = 30_000
)

// ResourceLimits bounds an execution. The zero value of a field means
// "unset"; Merge and DefaultResourceLimits resolve unset fields, so a
// fully-resolved ResourceLimits always has every field positive.
type ResourceLimits struct {
	MaxMemoryMB         int   `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUPercent       int   `json:"max_cpu_percent" yaml:"max_cpu_percent"`
	TimeoutMs           int64 `json:"timeout_ms" yaml:"timeout_ms"`
	MaxNetworkRequests  int   `json:"max_network_requests" yaml:"max_network_requests"`
	MaxFileSystemOps    int   `json:"max_file_system_ops" yaml:"max_file_system_ops"`
	MaxConcurrentOps    int   `json:"max_concurrent_ops" yaml:"max_concurrent_ops"`
	MaxPayloadSizeBytes int64 `json:"max_payload_size_bytes" yaml:"max_payload_size_bytes"`
	MaxRetries          int   `json:"max_retries" yaml:"max_retries"`
	NetworkTimeoutMs    int64 `json:"network_timeout_ms" yaml:"network_timeout_ms"`
}

// DefaultResourceLimits returns the documented limit defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryMB:         DefaultMaxMemoryMB,
		MaxCPUPercent:       DefaultMaxCPUPercent,
		TimeoutMs:           DefaultTimeoutMs,
		MaxNetworkRequests:  DefaultMaxNetworkRequests,
		MaxFileSystemOps:    DefaultMaxFileSystemOps,
		MaxConcurrentOps:    DefaultMaxConcurrentOps,
		MaxPayloadSizeBytes: DefaultMaxPayloadSizeBytes,
		MaxRetries:          DefaultMaxRetries,
		NetworkTimeoutMs:    DefaultNetworkTimeoutMs,
	}
}

// Merge overlays the set (non-zero) fields of overrides onto l and returns
// the result. Neither receiver nor argument is modified.
//
// Usage:
//
//	limits := core.DefaultResourceLimits().Merge(callerLimits)
func (l ResourceLimits) Merge(overrides ResourceLimits) ResourceLimits {
	out := l
	if overrides.MaxMemoryMB > 0 {
		out.MaxMemoryMB = overrides.MaxMemoryMB
	}
	if overrides.MaxCPUPercent > 0 {
		out.MaxCPUPercent = overrides.MaxCPUPercent
	}
	if overrides.TimeoutMs > 0 {
		out.TimeoutMs = overrides.TimeoutMs
	}
	if overrides.MaxNetworkRequests > 0 {
		out.MaxNetworkRequests = overrides.MaxNetworkRequests
	}
	if overrides.MaxFileSystemOps > 0 {
		out.MaxFileSystemOps = overrides.MaxFileSystemOps
	}
	if overrides.MaxConcurrentOps > 0 {
		out.MaxConcurrentOps = overrides.MaxConcurrentOps
	}
	if overrides.MaxPayloadSizeBytes > 0 {
		out.MaxPayloadSizeBytes = overrides.MaxPayloadSizeBytes
	}
	if overrides.MaxRetries > 0 {
		out.MaxRetries = overrides.MaxRetries
	}
	if overrides.NetworkTimeoutMs > 0 {
		out.NetworkTimeoutMs = overrides.NetworkTimeoutMs
	}
	return out
}

// ExecutionStatus describes where an execution is in its lifecycle.
type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusRunning    ExecutionStatus = "running"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusTimeout    ExecutionStatus = "timeout"
	StatusTerminated ExecutionStatus = "terminated"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusTerminated:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout, StatusTerminated:
		return true
	}
	return false
}

// ExecutionContext is the immutable description of one bounded unit of work.
// It is produced by the context builder after intent/decision validation and
// is treated as read-only from then on: the tracker, the escalation engine,
// and the repository all hold it by value or behind a pointer they never
// mutate.
//
// Child contexts share TenantID, Intent, Decision, CorrelationID, TraceID,
// Handler, Priority and a copy of Metadata with their parent, and carry the
// parent's ExecutionID in ParentExecutionID.
type ExecutionContext struct {
	ExecutionID       string                 `json:"execution_id"`
	TenantID          string                 `json:"tenant_id"`
	Intent            *Intent                `json:"intent"`
	Decision          *Decision              `json:"decision"`
	Limits            ResourceLimits         `json:"resource_limits"`
	Handler           string                 `json:"handler"`
	ParentExecutionID string                 `json:"parent_execution_id,omitempty"`
	CorrelationID     string                 `json:"correlation_id"`
	TraceID           string                 `json:"trace_id"`
	SpanID            string                 `json:"span_id"`
	Priority          int                    `json:"priority"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	Deadline          time.Time              `json:"deadline"`
}

// ResourceUsage is a point-in-time snapshot of the resources an execution
// has consumed, as reported by the sandbox or a resource monitor.
type ResourceUsage struct {
	MemoryMB         float64 `json:"memory_mb"`
	CPUPercent       float64 `json:"cpu_percent"`
	WallTimeMs       int64   `json:"wall_time_ms"`
	NetworkRequests  int     `json:"network_requests"`
	FileSystemOps    int     `json:"file_system_ops"`
	PayloadSizeBytes int64   `json:"payload_size_bytes"`
}

// Value looks up a usage field by name for rule evaluation. Both the rule
// vocabulary names ("memoryMb") and the snake_case wire names ("memory_mb")
// are accepted. The second return is false for unknown names.
func (u ResourceUsage) Value(name string) (float64, bool) {
	switch name {
	case "memoryMb", "memory_mb":
		return u.MemoryMB, true
	case "cpuPercent", "cpu_percent":
		return u.CPUPercent, true
	case "wallTimeMs", "wall_time_ms":
		return float64(u.WallTimeMs), true
	case "networkRequests", "network_requests":
		return float64(u.NetworkRequests), true
	case "fileSystemOps", "file_system_ops":
		return float64(u.FileSystemOps), true
	case "payloadSizeBytes", "payload_size_bytes":
		return float64(u.PayloadSizeBytes), true
	}
	return 0, false
}

// Violation is a sandbox policy breach reported for a running execution.
type Violation struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Severity    string                 `json:"severity,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// CopyMetadata returns a shallow copy of a metadata map. A nil input yields
// an empty, non-nil map so callers can attach entries without guarding.
func CopyMetadata(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

// EpochMillis converts a time to epoch milliseconds, the unit used for all
// internal window and deadline arithmetic. Zero times map to 0.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
