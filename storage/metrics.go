package storage

import "github.com/cognigate/cognigate/telemetry"

// Metric names emitted by the storage layer.
const (
	MetricBreakerState      = "cognigate.storage.breaker.state_changes"
	MetricBreakerRejections = "cognigate.storage.breaker.rejections"
	MetricRetentionDeleted  = "cognigate.storage.retention.deleted"
)

func recordBreakerState(state string) {
	telemetry.Counter(MetricBreakerState,
		"module", telemetry.ModuleStorage,
		"state", state)
}

func recordBreakerRejection(op string) {
	telemetry.Counter(MetricBreakerRejections,
		"module", telemetry.ModuleStorage,
		"op", op)
}

func recordRetentionDeleted(count int) {
	telemetry.CounterAdd(MetricRetentionDeleted, int64(count),
		"module", telemetry.ModuleStorage)
}
