package execution

import "github.com/cognigate/cognigate/telemetry"

// Metric names emitted by the builder and tracker.
const (
	MetricContextsBuilt      = "cognigate.execution.contexts.built"
	MetricValidationFailures = "cognigate.execution.validation.failures"
	MetricTrackedActive      = "cognigate.execution.tracked.active"
	MetricStatusTransitions  = "cognigate.execution.status.transitions"
	MetricTerminations       = "cognigate.execution.terminations"
)

func recordContextBuilt(kind string) {
	telemetry.Counter(MetricContextsBuilt,
		"module", telemetry.ModuleExecution,
		"kind", kind)
}

func recordValidationFailure(field string) {
	telemetry.Counter(MetricValidationFailures,
		"module", telemetry.ModuleExecution,
		"field", field)
}

func recordTrackedCount(count int) {
	telemetry.Gauge(MetricTrackedActive, float64(count),
		"module", telemetry.ModuleExecution)
}

func recordStatusTransition(status string) {
	telemetry.Counter(MetricStatusTransitions,
		"module", telemetry.ModuleExecution,
		"status", status)
}

func recordTerminations(count int) {
	telemetry.CounterAdd(MetricTerminations, int64(count),
		"module", telemetry.ModuleExecution)
}
