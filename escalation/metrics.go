package escalation

import "github.com/cognigate/cognigate/telemetry"

// Metric names emitted by the engine.
const (
	MetricRulesMatched      = "cognigate.escalation.rules.matched"
	MetricCreated           = "cognigate.escalation.records.created"
	MetricAcknowledged      = "cognigate.escalation.records.acknowledged"
	MetricResolved          = "cognigate.escalation.records.resolved"
	MetricExpired           = "cognigate.escalation.records.expired"
	MetricAutoTerminations  = "cognigate.escalation.auto_terminations"
	MetricActiveRecords     = "cognigate.escalation.records.active"
	MetricPredicateFailures = "cognigate.escalation.predicate.failures"
)

func recordRuleMatched(condition string) {
	telemetry.Counter(MetricRulesMatched,
		"module", telemetry.ModuleEscalation,
		"condition", condition)
}

func recordEscalationCreated(priority string) {
	telemetry.Counter(MetricCreated,
		"module", telemetry.ModuleEscalation,
		"priority", priority)
}

func recordEscalationAcknowledged() {
	telemetry.Counter(MetricAcknowledged,
		"module", telemetry.ModuleEscalation)
}

func recordEscalationResolved(action string) {
	telemetry.Counter(MetricResolved,
		"module", telemetry.ModuleEscalation,
		"action", action)
}

func recordEscalationExpired(priority string) {
	telemetry.Counter(MetricExpired,
		"module", telemetry.ModuleEscalation,
		"priority", priority)
}

func recordAutoTermination() {
	telemetry.Counter(MetricAutoTerminations,
		"module", telemetry.ModuleEscalation)
}

func recordActiveCount(count int) {
	telemetry.Gauge(MetricActiveRecords, float64(count),
		"module", telemetry.ModuleEscalation)
}

func recordPredicateFailure(ruleID string) {
	telemetry.Counter(MetricPredicateFailures,
		"module", telemetry.ModuleEscalation,
		"rule_id", ruleID)
}
