package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These are generic errors that can be wrapped with additional context.
var (
	// Lookup errors
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrEscalationNotFound = errors.New("escalation not found")
	ErrRuleNotFound       = errors.New("escalation rule not found")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// State errors
	ErrRuntimeClosed = errors.New("runtime is shut down")

	// Repository errors
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)

// ValidationError reports a rejected intent/decision/context before any
// state is mutated. Message text is stable; callers and tests match on it.
type ValidationError struct {
	Field   string // Offending field, e.g. "decision.action"
	Message string // Human-readable message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsValidationError checks if an error is a validation rejection.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AdmissionError reports a rate-limit denial. It carries everything a
// client needs to retry correctly and everything an HTTP layer needs to
// synthesize rate-limit headers.
type AdmissionError struct {
	Reason       string // e.g. "Burst rate limit exceeded"
	Limit        int    // Limit of the violated horizon
	Remaining    int    // Remaining requests, clamped to >= 0
	ResetAt      int64  // Epoch-ms when the violated window frees a slot
	RetryAfterMs int64  // Milliseconds until a retry can succeed
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied: %s", e.Reason)
}

// IsAdmissionDenied checks if an error is a rate-limit denial.
// Denials are recoverable: the client retries after RetryAfterMs.
func IsAdmissionDenied(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}

// GetAdmission extracts the admission details from a denial error.
// Returns nil if the error is not an admission denial.
//
// Usage:
//
//	if denial := core.GetAdmission(err); denial != nil {
//	    scheduleRetry(time.Duration(denial.RetryAfterMs) * time.Millisecond)
//	}
func GetAdmission(err error) *AdmissionError {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}

// DuplicateExecutionError indicates Track was called twice for the same
// execution id. This is a programmer error and fails loudly.
type DuplicateExecutionError struct {
	ExecutionID string
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("execution already tracked: %s", e.ExecutionID)
}

// IsDuplicateExecution checks if an error is a duplicate-tracking failure.
func IsDuplicateExecution(err error) bool {
	var de *DuplicateExecutionError
	return errors.As(err, &de)
}

// NotTrackedError indicates an operation referenced an execution id the
// tracker does not hold. Only operations that must fail loudly return it;
// soft lookups warn and no-op instead.
type NotTrackedError struct {
	ExecutionID string
	Op          string // Operation that failed, e.g. "tracker.SetResourceMonitor"
}

func (e *NotTrackedError) Error() string {
	return fmt.Sprintf("%s: execution not tracked: %s", e.Op, e.ExecutionID)
}

// IsNotTracked checks if an error is an unknown-execution failure.
func IsNotTracked(err error) bool {
	var ne *NotTrackedError
	return errors.As(err, &ne)
}

// RepositoryError wraps a failure from the persistence layer. The runtime
// never retries these; the circuit breaker at the storage boundary decides
// fail-open versus fail-fast.
type RepositoryError struct {
	Op  string // Repository operation, e.g. "repository.CreateExecution"
	Err error  // Underlying driver error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository operation %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError wraps err as a repository failure for operation op.
func NewRepositoryError(op string, err error) *RepositoryError {
	return &RepositoryError{Op: op, Err: err}
}

// IsRepositoryError checks if an error came from the persistence layer.
func IsRepositoryError(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

// IsRepositoryUnavailable checks if an error indicates the storage circuit
// breaker is open. Distinguishable from ordinary repository failures so
// callers can fail fast instead of queueing work.
func IsRepositoryUnavailable(err error) bool {
	return errors.Is(err, ErrRepositoryUnavailable)
}

// IsConfigurationError checks if an error is configuration-related.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsNotFound checks if an error represents a "not found" condition from
// any runtime component or store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrEscalationNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}
