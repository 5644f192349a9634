package cognigate

import "github.com/cognigate/cognigate/telemetry"

// Metric names emitted by the runtime facade.
const (
	MetricDriftRepaired = "cognigate.runtime.reconcile.drift_repaired"
	MetricAuditFailures = "cognigate.runtime.audit.failures"
)

func recordDriftRepaired(tenantID string) {
	telemetry.Counter(MetricDriftRepaired,
		"module", telemetry.ModuleRuntime,
		"tenant_id", tenantID)
}

func recordAuditFailure(eventType string) {
	telemetry.Counter(MetricAuditFailures,
		"module", telemetry.ModuleRuntime,
		"event_type", eventType)
}
