// Package ratelimit enforces per-tenant admission control across four
// independent horizons: a 5-second burst window, per-minute and per-hour
// request windows, and a per-minute execution window paired with a
// concurrent-execution ceiling.
//
// Checking and recording are deliberately separate operations so callers
// can consume a slot only when downstream processing actually happens:
//
//	admission := limiter.CheckLimit(tenantID, tier)
//	if !admission.Allowed {
//	    return admission.DenyError()
//	}
//	limiter.RecordRequest(tenantID)
//
// Limits resolve per tenant as: tier defaults, overlaid with limiter-wide
// overrides, overlaid with per-tenant overrides (rightmost wins).
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/cognigate/cognigate/core"
)

// Horizon spans in epoch milliseconds.
const (
	burstWindowMs  = 5_000
	minuteWindowMs = 60_000
	hourWindowMs   = 3_600_000
)

// Window kinds keyed per tenant.
const (
	kindBurst      = "burst"
	kindMinute     = "minute"
	kindHour       = "hour"
	kindExecMinute = "exec_minute"
)

// Stable denial reasons. Clients match on these strings.
const (
	ReasonBurstExceeded    = "Burst rate limit exceeded"
	ReasonMinuteExceeded   = "Minute rate limit exceeded"
	ReasonHourExceeded     = "Hourly rate limit exceeded"
	ReasonExecRateExceeded = "Execution rate limit exceeded"
	reasonConcurrentFormat = "Concurrent execution limit reached (%d/%d)"
)

// Admission is the outcome of one limit check. ResetAt and RetryAfterMs
// are epoch-ms and ms respectively; Headers converts both to the
// second-granularity HTTP header surface.
type Admission struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
	ResetAt      int64  `json:"reset_at"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

// DenyError converts a denied admission into a core.AdmissionError.
// Calling it on an allowed admission returns nil.
func (a Admission) DenyError() error {
	if a.Allowed {
		return nil
	}
	return &core.AdmissionError{
		Reason:       a.Reason,
		Limit:        a.Limit,
		Remaining:    a.Remaining,
		ResetAt:      a.ResetAt,
		RetryAfterMs: a.RetryAfterMs,
	}
}

// Config carries the limiter's data configuration. Behavior dependencies
// (logger) are wired through options.
type Config struct {
	// DefaultTier is assumed when a caller passes an empty tier name.
	DefaultTier string

	// Overrides apply limiter-wide on top of every tier's defaults.
	Overrides Limits
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() *Config {
	return &Config{DefaultTier: TierFree}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the limiter's logger.
func WithLogger(logger core.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Limiter is the rate admission controller. All operations are
// non-blocking and safe for concurrent use; one mutex serializes the
// window map, the concurrent counters, and the override table.
type Limiter struct {
	mu     sync.Mutex
	config *Config
	logger core.Logger

	windows         map[string]*slidingWindow
	concurrent      map[string]int
	tenantOverrides map[string]Limits

	// now is the clock hook; tests override it for deterministic windows.
	now func() int64
}

// NewLimiter creates a Limiter. A nil config gets defaults.
func NewLimiter(config *Config, opts ...Option) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultTier == "" {
		config.DefaultTier = TierFree
	}

	l := &Limiter{
		config:          config,
		logger:          &core.NoOpLogger{},
		windows:         make(map[string]*slidingWindow),
		concurrent:      make(map[string]int),
		tenantOverrides: make(map[string]Limits),
		now:             func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckLimit evaluates the request horizons in order: burst, then minute,
// then hour. The first horizon that would be violated by one more record
// is the denial reason. It never consumes a slot; pair with
// RecordRequest.
func (l *Limiter) CheckLimit(tenantID, tier string) Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tier = l.normalizeTier(tier)
	eff := l.effectiveLimits(tenantID, tier)

	horizons := []struct {
		kind   string
		span   int64
		limit  int
		reason string
		label  string
	}{
		{kindBurst, burstWindowMs, eff.BurstLimit, ReasonBurstExceeded, "burst"},
		{kindMinute, minuteWindowMs, eff.RequestsPerMinute, ReasonMinuteExceeded, "minute"},
		{kindHour, hourWindowMs, eff.RequestsPerHour, ReasonHourExceeded, "hour"},
	}

	for _, h := range horizons {
		w := l.window(tenantID, h.kind, h.span)
		if !w.admit(now, h.limit) {
			resetAt := w.resetAt(now)
			denial := Admission{
				Reason:       h.reason,
				Limit:        h.limit,
				Remaining:    remaining(h.limit, w.count(now)),
				ResetAt:      resetAt,
				RetryAfterMs: max(0, resetAt-now),
			}
			l.logger.Debug("Request admission denied", map[string]interface{}{
				"tenant_id":      tenantID,
				"tier":           tier,
				"horizon":        h.label,
				"retry_after_ms": denial.RetryAfterMs,
			})
			recordRequestDenied(tier, h.label)
			return denial
		}
	}

	minuteW := l.window(tenantID, kindMinute, minuteWindowMs)
	hourW := l.window(tenantID, kindHour, hourWindowMs)

	recordRequestAllowed(tier)
	return Admission{
		Allowed: true,
		Limit:   eff.RequestsPerMinute,
		Remaining: min(
			remaining(eff.RequestsPerMinute, minuteW.count(now)),
			remaining(eff.RequestsPerHour, hourW.count(now)),
		),
		ResetAt: minuteW.resetAt(now),
	}
}

// RecordRequest consumes one slot in every request horizon. Separate from
// CheckLimit by contract.
func (l *Limiter) RecordRequest(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.window(tenantID, kindBurst, burstWindowMs).record(now)
	l.window(tenantID, kindMinute, minuteWindowMs).record(now)
	l.window(tenantID, kindHour, hourWindowMs).record(now)
}

// CheckExecutionLimit evaluates the concurrent-execution ceiling first,
// then the executions-per-minute window. Never consumes; pair with
// RecordExecution.
func (l *Limiter) CheckExecutionLimit(tenantID, tier string) Admission {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tier = l.normalizeTier(tier)
	eff := l.effectiveLimits(tenantID, tier)

	active := l.concurrent[tenantID]
	if active >= eff.ConcurrentExecutions {
		denial := Admission{
			Reason:    fmt.Sprintf(reasonConcurrentFormat, active, eff.ConcurrentExecutions),
			Limit:     eff.ConcurrentExecutions,
			Remaining: 0,
			ResetAt:   now,
		}
		l.logger.Debug("Execution admission denied", map[string]interface{}{
			"tenant_id": tenantID,
			"tier":      tier,
			"horizon":   "concurrent",
			"active":    active,
		})
		recordExecutionDenied(tier, "concurrent")
		return denial
	}

	w := l.window(tenantID, kindExecMinute, minuteWindowMs)
	if !w.admit(now, eff.ExecutionsPerMinute) {
		resetAt := w.resetAt(now)
		denial := Admission{
			Reason:       ReasonExecRateExceeded,
			Limit:        eff.ExecutionsPerMinute,
			Remaining:    remaining(eff.ExecutionsPerMinute, w.count(now)),
			ResetAt:      resetAt,
			RetryAfterMs: max(0, resetAt-now),
		}
		l.logger.Debug("Execution admission denied", map[string]interface{}{
			"tenant_id":      tenantID,
			"tier":           tier,
			"horizon":        "execution_rate",
			"retry_after_ms": denial.RetryAfterMs,
		})
		recordExecutionDenied(tier, "execution_rate")
		return denial
	}

	recordExecutionAllowed(tier)
	return Admission{
		Allowed: true,
		Limit:   eff.ConcurrentExecutions,
		Remaining: min(
			eff.ConcurrentExecutions-active,
			remaining(eff.ExecutionsPerMinute, w.count(now)),
		),
		ResetAt: w.resetAt(now),
	}
}

// RecordExecution consumes one executions-per-minute slot and increments
// the tenant's concurrent counter.
func (l *Limiter) RecordExecution(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.window(tenantID, kindExecMinute, minuteWindowMs).record(now)
	l.concurrent[tenantID]++
	recordConcurrentActive(tenantID, l.concurrent[tenantID])
}

// CompleteExecution decrements the tenant's concurrent counter, clamped
// at zero. Duplicate completion notices below zero are ignored so they
// cannot free phantom slots.
func (l *Limiter) CompleteExecution(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	active, ok := l.concurrent[tenantID]
	if !ok || active <= 0 {
		l.logger.Debug("Ignoring completion below zero", map[string]interface{}{
			"tenant_id": tenantID,
		})
		return
	}
	if active == 1 {
		delete(l.concurrent, tenantID)
	} else {
		l.concurrent[tenantID] = active - 1
	}
	recordConcurrentActive(tenantID, active-1)
}

// SetTenantOverrides installs per-tenant limit overrides. Unset fields
// inherit from the limiter-wide overrides and the tier.
func (l *Limiter) SetTenantOverrides(tenantID string, overrides Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tenantOverrides[tenantID] = overrides
	l.logger.Info("Tenant limit overrides set", map[string]interface{}{
		"tenant_id": tenantID,
		"overrides": overrides,
	})
}

// GetEffectiveLimits resolves the limits in force for a tenant and tier.
func (l *Limiter) GetEffectiveLimits(tenantID, tier string) Limits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.effectiveLimits(tenantID, tier)
}

// ResetTenant clears every window and the concurrent counter for one
// tenant. Per-tenant overrides survive; this is an admin operation for
// unblocking a tenant, not for forgetting its configuration.
func (l *Limiter) ResetTenant(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, kind := range []string{kindBurst, kindMinute, kindHour, kindExecMinute} {
		delete(l.windows, windowKey(tenantID, kind))
	}
	delete(l.concurrent, tenantID)

	l.logger.Info("Tenant rate-limit state reset", map[string]interface{}{
		"tenant_id": tenantID,
	})
}

// ConcurrentCount returns the tenant's current concurrent-execution
// counter. Exposed for drift reconciliation against the tracker.
func (l *Limiter) ConcurrentCount(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.concurrent[tenantID]
}

// ConcurrentTenants returns every tenant id with a non-zero concurrent
// counter. Exposed for drift reconciliation against the tracker.
func (l *Limiter) ConcurrentTenants() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, 0, len(l.concurrent))
	for tenantID := range l.concurrent {
		out = append(out, tenantID)
	}
	return out
}

// SetConcurrent forces the tenant's concurrent counter, clamped at zero.
// This is the repair half of reconciliation; normal accounting goes
// through RecordExecution and CompleteExecution.
func (l *Limiter) SetConcurrent(tenantID string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count <= 0 {
		delete(l.concurrent, tenantID)
		recordConcurrentActive(tenantID, 0)
		return
	}
	l.concurrent[tenantID] = count
	recordConcurrentActive(tenantID, count)
}

// Reset clears all limiter state for every tenant. Test utility.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.windows = make(map[string]*slidingWindow)
	l.concurrent = make(map[string]int)
	l.tenantOverrides = make(map[string]Limits)
}

// effectiveLimits resolves tier defaults, limiter-wide overrides, and
// per-tenant overrides, rightmost winning. Callers hold l.mu.
func (l *Limiter) effectiveLimits(tenantID, tier string) Limits {
	eff := TierLimits(l.normalizeTier(tier)).Merge(l.config.Overrides)
	if overrides, ok := l.tenantOverrides[tenantID]; ok {
		eff = eff.Merge(overrides)
	}
	return eff
}

// normalizeTier maps an empty tier to the configured default and any
// unknown tier name to the free tier. Keeps the tier label space
// bounded for logs and metrics.
func (l *Limiter) normalizeTier(tier string) string {
	if tier == "" {
		tier = l.config.DefaultTier
	}
	if !KnownTier(tier) {
		l.logger.Debug("Unknown tier, using free limits", map[string]interface{}{
			"tier": tier,
		})
		return TierFree
	}
	return tier
}

func (l *Limiter) window(tenantID, kind string, spanMs int64) *slidingWindow {
	key := windowKey(tenantID, kind)
	w, ok := l.windows[key]
	if !ok {
		w = newSlidingWindow(spanMs)
		l.windows[key] = w
	}
	return w
}

func windowKey(tenantID, kind string) string {
	return tenantID + ":" + kind
}

func remaining(limit, count int) int {
	return max(0, limit-count)
}
