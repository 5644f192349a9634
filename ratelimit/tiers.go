package ratelimit

// Limits is one tenant's rate and quota ceiling set. A zero field means
// "unset" and inherits through Merge, which is how tier defaults,
// limiter-wide overrides, and per-tenant overrides compose.
type Limits struct {
	RequestsPerMinute    int `json:"requests_per_minute" yaml:"requests_per_minute"`
	RequestsPerHour      int `json:"requests_per_hour" yaml:"requests_per_hour"`
	BurstLimit           int `json:"burst_limit" yaml:"burst_limit"`
	ExecutionsPerMinute  int `json:"executions_per_minute" yaml:"executions_per_minute"`
	ConcurrentExecutions int `json:"concurrent_executions" yaml:"concurrent_executions"`
}

// Merge overlays the set (non-zero) fields of overrides onto l.
func (l Limits) Merge(overrides Limits) Limits {
	out := l
	if overrides.RequestsPerMinute > 0 {
		out.RequestsPerMinute = overrides.RequestsPerMinute
	}
	if overrides.RequestsPerHour > 0 {
		out.RequestsPerHour = overrides.RequestsPerHour
	}
	if overrides.BurstLimit > 0 {
		out.BurstLimit = overrides.BurstLimit
	}
	if overrides.ExecutionsPerMinute > 0 {
		out.ExecutionsPerMinute = overrides.ExecutionsPerMinute
	}
	if overrides.ConcurrentExecutions > 0 {
		out.ConcurrentExecutions = overrides.ConcurrentExecutions
	}
	return out
}

// Shipped tiers. Unknown tier names fall back to the free tier.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

var tierLimits = map[string]Limits{
	TierFree: {
		RequestsPerMinute:    30,
		RequestsPerHour:      500,
		BurstLimit:           5,
		ExecutionsPerMinute:  10,
		ConcurrentExecutions: 5,
	},
	TierPro: {
		RequestsPerMinute:    150,
		RequestsPerHour:      5_000,
		BurstLimit:           25,
		ExecutionsPerMinute:  50,
		ConcurrentExecutions: 20,
	},
	TierEnterprise: {
		RequestsPerMinute:    500,
		RequestsPerHour:      25_000,
		BurstLimit:           50,
		ExecutionsPerMinute:  200,
		ConcurrentExecutions: 100,
	},
}

// TierLimits returns the shipped limits for a tier name, falling back to
// the free tier for unknown names.
func TierLimits(tier string) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// KnownTier reports whether the tier name has shipped limits.
func KnownTier(tier string) bool {
	_, ok := tierLimits[tier]
	return ok
}
