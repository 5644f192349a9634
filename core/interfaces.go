package core

// Logger provides structured logging for all runtime components.
// Implementations must be safe for concurrent use. Components treat the
// logger as optional and nil-guard every call, so wiring one is never
// required for correctness.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// CancelHandle is the single capability the tracker holds over a unit of
// work: signal it with a reason. The handle is supplied by the caller at
// track time and only ever observed, never constructed, by the runtime.
//
// Cancel must be idempotent; the first reason wins. Reason returns the
// winning reason, or "" while the work is not canceled.
type CancelHandle interface {
	Cancel(reason string) error
	Reason() string
}

// ResourceMonitor observes the resource consumption of one execution.
// Monitors are attached to tracked executions and stopped when the
// execution is removed or terminated.
type ResourceMonitor interface {
	// Snapshot returns the current usage reading.
	Snapshot() ResourceUsage

	// Stop releases the monitor. Safe to call more than once.
	Stop()
}

// NoOpLogger discards all log output. It is the default logger for every
// component so that logging is always safe to call.
type NoOpLogger struct{}

func (l *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (l *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (l *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (l *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpMonitor is a ResourceMonitor that always reads zero usage.
type NoOpMonitor struct{}

func (m *NoOpMonitor) Snapshot() ResourceUsage { return ResourceUsage{} }
func (m *NoOpMonitor) Stop()                   {}

var (
	_ Logger          = (*NoOpLogger)(nil)
	_ ResourceMonitor = (*NoOpMonitor)(nil)
)
