package telemetry

// Module labels attached to every metric so dashboards can slice by
// runtime component.
const (
	ModuleRateLimit  = "ratelimit"
	ModuleExecution  = "execution"
	ModuleEscalation = "escalation"
	ModuleStorage    = "storage"
	ModuleRuntime    = "runtime"
)
