package storage

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cognigate/cognigate/core"
)

// SweeperConfig tunes the retention sweeper.
type SweeperConfig struct {
	// Retention is how long soft-deleted executions are kept before
	// being hard-deleted.
	Retention time.Duration

	// Interval is how often the sweeper runs.
	Interval time.Duration
}

// DefaultSweeperConfig returns the default retention tuning: thirty days
// of retention, swept hourly.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Retention: 720 * time.Hour,
		Interval:  time.Hour,
	}
}

// SweeperOption configures a RetentionSweeper.
type SweeperOption func(*RetentionSweeper)

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(logger core.Logger) SweeperOption {
	return func(s *RetentionSweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// RetentionSweeper periodically hard-deletes executions whose soft
// deletion has aged past the retention window. Individual delete
// failures are logged and do not abort the sweep; the rows stay for the
// next cycle.
type RetentionSweeper struct {
	repo   Repository
	config *SweeperConfig
	logger core.Logger

	// One mutex serializes Start and Stop so the cancel func is never
	// written and read concurrently.
	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// now is the clock hook; tests override it for deterministic cutoffs.
	now func() time.Time
}

// NewRetentionSweeper creates a sweeper over the repository. A nil
// config gets defaults.
func NewRetentionSweeper(repo Repository, config *SweeperConfig, opts ...SweeperOption) *RetentionSweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.Retention <= 0 {
		config.Retention = 720 * time.Hour
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}

	s := &RetentionSweeper{
		repo:   repo,
		config: config,
		logger: &core.NoOpLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic sweep. Starting a running sweeper restarts
// it; the sweeper stops when ctx is canceled or Stop is called.
func (s *RetentionSweeper) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.sweepLoop(sweepCtx)

	s.logger.Info("Retention sweeper started", map[string]interface{}{
		"retention": s.config.Retention.String(),
		"interval":  s.config.Interval.String(),
	})
}

// Stop halts the sweeper. Stopping a stopped sweeper is a no-op.
func (s *RetentionSweeper) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

// stopLocked halts the sweep loop. Callers hold s.lifecycle; the loop
// never touches the lifecycle mutex, so waiting under it cannot
// deadlock.
func (s *RetentionSweeper) stopLocked() {
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
}

func (s *RetentionSweeper) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

func (s *RetentionSweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Retention sweep panicked", map[string]interface{}{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			})
		}
	}()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Retention sweep failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// SweepOnce runs one retention pass and returns how many executions were
// hard-deleted.
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Retention)

	ids, err := s.repo.ListDeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := 0
	for _, id := range ids {
		if err := s.repo.HardDeleteExecution(ctx, id); err != nil {
			if core.IsNotFound(err) {
				continue
			}
			s.logger.Warn("Retention delete failed", map[string]interface{}{
				"execution_id": id,
				"error":        err.Error(),
			})
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info("Retention sweep completed", map[string]interface{}{
			"deleted": deleted,
			"cutoff":  cutoff.UTC().Format(time.RFC3339),
		})
		recordRetentionDeleted(deleted)
	}
	return deleted, nil
}
