package cognigate

import (
	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
	"github.com/cognigate/cognigate/execution"
	"github.com/cognigate/cognigate/ratelimit"
	"github.com/cognigate/cognigate/storage"
)

// Re-exported types so common integrations only import the root package.
// Specialized work imports the subpackages directly.
type (
	// Data model
	Intent           = core.Intent
	Decision         = core.Decision
	DecisionAction   = core.DecisionAction
	ExecutionContext = core.ExecutionContext
	ExecutionStatus  = core.ExecutionStatus
	ResourceLimits   = core.ResourceLimits
	ResourceUsage    = core.ResourceUsage
	Violation        = core.Violation

	// Capabilities the host supplies
	Logger          = core.Logger
	CancelHandle    = core.CancelHandle
	ResourceMonitor = core.ResourceMonitor

	// Configuration
	Config       = core.Config
	ConfigOption = core.Option

	// Admission
	Admission = ratelimit.Admission
	Limits    = ratelimit.Limits

	// Tracking
	ActiveExecution = execution.ActiveExecution
	ChildOverrides  = execution.ChildOverrides

	// Escalation
	Rule              = escalation.Rule
	EscalationRecord  = escalation.Record
	EvaluationContext = escalation.EvaluationContext
	Condition         = escalation.Condition
	Predicate         = escalation.Predicate
	PredicateFunc     = escalation.PredicateFunc

	// Persistence
	Repository      = storage.Repository
	ExecutionRecord = storage.ExecutionRecord
	ExecutionStats  = storage.ExecutionStats
	AuditRecord     = storage.AuditRecord
	AuditQuery      = storage.AuditQuery
)

// Re-exported constants.
const (
	ActionAllow   = core.ActionAllow
	ActionMonitor = core.ActionMonitor

	StatusPending    = core.StatusPending
	StatusRunning    = core.StatusRunning
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusTimeout    = core.StatusTimeout
	StatusTerminated = core.StatusTerminated

	TierFree       = ratelimit.TierFree
	TierPro        = ratelimit.TierPro
	TierEnterprise = ratelimit.TierEnterprise

	PriorityLow      = escalation.PriorityLow
	PriorityMedium   = escalation.PriorityMedium
	PriorityHigh     = escalation.PriorityHigh
	PriorityCritical = escalation.PriorityCritical
)

// Re-exported constructors and configuration options.
var (
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig

	NewProductionLogger  = core.NewProductionLogger
	NewDevelopmentLogger = core.NewDevelopmentLogger

	NewMemoryRepository = storage.NewMemoryRepository
	NewRedisRepository  = storage.NewRedisRepository

	LoadRulesFile = escalation.LoadRulesFile

	WithServiceName          = core.WithServiceName
	WithLogLevel             = core.WithLogLevel
	WithLogFormat            = core.WithLogFormat
	WithDefaultTier          = core.WithDefaultTier
	WithEscalationInterval   = core.WithEscalationInterval
	WithRulesFile            = core.WithRulesFile
	WithStorageProvider      = core.WithStorageProvider
	WithRedisURL             = core.WithRedisURL
	WithKeyPrefix            = core.WithKeyPrefix
	WithCircuitBreaker       = core.WithCircuitBreaker
	WithRetention            = core.WithRetention
	WithSweepInterval        = core.WithSweepInterval
	WithTelemetry            = core.WithTelemetry
	WithDevelopmentTelemetry = core.WithDevelopmentTelemetry
	WithConfigFile           = core.WithConfigFile
)

// Re-exported error classification helpers.
var (
	IsValidationError       = core.IsValidationError
	IsAdmissionDenied       = core.IsAdmissionDenied
	IsDuplicateExecution    = core.IsDuplicateExecution
	IsNotTracked            = core.IsNotTracked
	IsRepositoryError       = core.IsRepositoryError
	IsRepositoryUnavailable = core.IsRepositoryUnavailable
	IsNotFound              = core.IsNotFound
)
