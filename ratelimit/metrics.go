package ratelimit

import "github.com/cognigate/cognigate/telemetry"

// Metric names emitted by the limiter. All carry a module label plus a
// tier label; denials add the horizon that rejected the request.
const (
	MetricRequestsAllowed   = "cognigate.ratelimit.requests.allowed"
	MetricRequestsDenied    = "cognigate.ratelimit.requests.denied"
	MetricExecutionsAllowed = "cognigate.ratelimit.executions.allowed"
	MetricExecutionsDenied  = "cognigate.ratelimit.executions.denied"
	MetricConcurrentActive  = "cognigate.ratelimit.concurrent.active"
)

func recordRequestAllowed(tier string) {
	telemetry.Counter(MetricRequestsAllowed,
		"module", telemetry.ModuleRateLimit,
		"tier", tier)
}

func recordRequestDenied(tier, horizon string) {
	telemetry.Counter(MetricRequestsDenied,
		"module", telemetry.ModuleRateLimit,
		"tier", tier,
		"horizon", horizon)
}

func recordExecutionAllowed(tier string) {
	telemetry.Counter(MetricExecutionsAllowed,
		"module", telemetry.ModuleRateLimit,
		"tier", tier)
}

func recordExecutionDenied(tier, horizon string) {
	telemetry.Counter(MetricExecutionsDenied,
		"module", telemetry.ModuleRateLimit,
		"tier", tier,
		"horizon", horizon)
}

func recordConcurrentActive(tenantID string, active int) {
	telemetry.Gauge(MetricConcurrentActive, float64(active),
		"module", telemetry.ModuleRateLimit,
		"tenant_id", tenantID)
}
