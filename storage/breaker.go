package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cognigate/cognigate/core"
	"github.com/cognigate/cognigate/escalation"
)

// BreakerConfig tunes the circuit breaker around a Repository.
type BreakerConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// MaxRequests is how many probes pass while half-open.
	MaxRequests uint32

	// Interval resets the failure counts while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:                "cognigate-repository",
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerOption configures a BreakerRepository.
type BreakerOption func(*BreakerRepository)

// WithBreakerLogger sets the breaker's logger.
func WithBreakerLogger(logger core.Logger) BreakerOption {
	return func(b *BreakerRepository) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// BreakerRepository wraps any Repository in a circuit breaker. While the
// breaker is open, every operation fails fast with an error matching
// core.IsRepositoryUnavailable, so callers can distinguish "the store is
// down" from an ordinary driver failure.
//
// Not-found lookups pass through untouched and do not count as failures.
type BreakerRepository struct {
	inner  Repository
	cb     *gobreaker.CircuitBreaker
	logger core.Logger
}

// NewBreakerRepository wraps inner with a circuit breaker. A nil config
// gets defaults.
func NewBreakerRepository(inner Repository, config *BreakerConfig, opts ...BreakerOption) *BreakerRepository {
	if config == nil {
		config = DefaultBreakerConfig()
	}

	b := &BreakerRepository{
		inner:  inner,
		logger: &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// Absent rows are answers, not storage failures.
			return err == nil || core.IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("Repository circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			recordBreakerState(to.String())
		},
	})
	return b
}

// do routes one repository call through the breaker, mapping open-breaker
// rejections to core.ErrRepositoryUnavailable.
func do[T any](b *BreakerRepository, op string, fn func() (T, error)) (T, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			recordBreakerRejection(op)
			return zero, fmt.Errorf("%s: %w", op, core.ErrRepositoryUnavailable)
		}
		return zero, err
	}
	out, _ := result.(T)
	return out, nil
}

// doErr is do for operations with no result value.
func doErr(b *BreakerRepository, op string, fn func() error) error {
	_, err := do(b, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (b *BreakerRepository) CreateExecution(ctx context.Context, record *ExecutionRecord) error {
	return doErr(b, "repository.CreateExecution", func() error { return b.inner.CreateExecution(ctx, record) })
}

func (b *BreakerRepository) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	return do(b, "repository.GetExecution", func() (*ExecutionRecord, error) {
		return b.inner.GetExecution(ctx, executionID)
	})
}

func (b *BreakerRepository) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	return do(b, "repository.ListExecutions", func() ([]*ExecutionRecord, error) {
		return b.inner.ListExecutions(ctx, filter)
	})
}

func (b *BreakerRepository) UpdateExecution(ctx context.Context, record *ExecutionRecord) error {
	return doErr(b, "repository.UpdateExecution", func() error { return b.inner.UpdateExecution(ctx, record) })
}

func (b *BreakerRepository) SoftDeleteExecution(ctx context.Context, executionID string) error {
	return doErr(b, "repository.SoftDeleteExecution", func() error { return b.inner.SoftDeleteExecution(ctx, executionID) })
}

func (b *BreakerRepository) HardDeleteExecution(ctx context.Context, executionID string) error {
	return doErr(b, "repository.HardDeleteExecution", func() error { return b.inner.HardDeleteExecution(ctx, executionID) })
}

func (b *BreakerRepository) AppendEvent(ctx context.Context, event *ExecutionEvent) error {
	return doErr(b, "repository.AppendEvent", func() error { return b.inner.AppendEvent(ctx, event) })
}

func (b *BreakerRepository) ListEvents(ctx context.Context, executionID string) ([]*ExecutionEvent, error) {
	return do(b, "repository.ListEvents", func() ([]*ExecutionEvent, error) {
		return b.inner.ListEvents(ctx, executionID)
	})
}

func (b *BreakerRepository) InsertAudit(ctx context.Context, record *AuditRecord) error {
	return doErr(b, "repository.InsertAudit", func() error { return b.inner.InsertAudit(ctx, record) })
}

func (b *BreakerRepository) InsertAuditBatch(ctx context.Context, records []*AuditRecord) error {
	return doErr(b, "repository.InsertAuditBatch", func() error { return b.inner.InsertAuditBatch(ctx, records) })
}

func (b *BreakerRepository) QueryAudit(ctx context.Context, query AuditQuery) ([]*AuditRecord, error) {
	return do(b, "repository.QueryAudit", func() ([]*AuditRecord, error) {
		return b.inner.QueryAudit(ctx, query)
	})
}

func (b *BreakerRepository) CreateEscalation(ctx context.Context, record *escalation.Record) error {
	return doErr(b, "repository.CreateEscalation", func() error { return b.inner.CreateEscalation(ctx, record) })
}

func (b *BreakerRepository) GetEscalation(ctx context.Context, escalationID string) (*escalation.Record, error) {
	return do(b, "repository.GetEscalation", func() (*escalation.Record, error) {
		return b.inner.GetEscalation(ctx, escalationID)
	})
}

func (b *BreakerRepository) UpdateEscalation(ctx context.Context, record *escalation.Record) error {
	return doErr(b, "repository.UpdateEscalation", func() error { return b.inner.UpdateEscalation(ctx, record) })
}

func (b *BreakerRepository) ListActiveEscalations(ctx context.Context, tenantID string) ([]*escalation.Record, error) {
	return do(b, "repository.ListActiveEscalations", func() ([]*escalation.Record, error) {
		return b.inner.ListActiveEscalations(ctx, tenantID)
	})
}

func (b *BreakerRepository) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return do(b, "repository.ListDeletedBefore", func() ([]string, error) {
		return b.inner.ListDeletedBefore(ctx, cutoff)
	})
}

func (b *BreakerRepository) Statistics(ctx context.Context, tenantID string, since time.Time) (*ExecutionStats, error) {
	return do(b, "repository.Statistics", func() (*ExecutionStats, error) {
		return b.inner.Statistics(ctx, tenantID, since)
	})
}

// Close bypasses the breaker; shutdown must always reach the store.
func (b *BreakerRepository) Close() error {
	return b.inner.Close()
}

var _ Repository = (*BreakerRepository)(nil)
