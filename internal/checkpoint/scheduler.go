// Package checkpoint runs periodic durable saves of the gram tables,
// independent of how fast characters arrive.
//
// A tick that finds the previous checkpoint still running is skipped, not
// queued, so checkpoints never overlap and never pile up behind slow disks.
package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jullanggit/keylogger/internal/metrics"
)

// DefaultInterval is the time between checkpoints.
const DefaultInterval = 5 * time.Second

// Target is what the scheduler saves.
type Target interface {
	Checkpoint(ctx context.Context) error
}

// Config configures a Scheduler.
type Config struct {
	// Interval between checkpoints (default: 5 seconds)
	Interval time.Duration

	// FinalCheckpoint runs one more checkpoint after the context is
	// cancelled and the in-flight checkpoint has finished.
	FinalCheckpoint bool

	// OnCheckpoint is called after every checkpoint attempt with its result
	OnCheckpoint func(err error)

	Logger  *slog.Logger
	Metrics *metrics.KeyloggerMetrics
}

// Stats tracks scheduler activity.
type Stats struct {
	// Ticks is the number of ticks received
	Ticks uint64

	// Checkpoints is the number of successful checkpoints
	Checkpoints uint64

	// Failures is the number of failed checkpoints
	Failures uint64

	// Skipped is the number of ticks dropped because a checkpoint was busy
	Skipped uint64

	// LastCheckpoint is the time of the last successful checkpoint
	LastCheckpoint time.Time

	// LastError is the most recent error, if any
	LastError error
}

// Scheduler triggers checkpoints of a Target on a fixed interval.
type Scheduler struct {
	config Config
	target Target
	logger *slog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

// New creates a scheduler for target.
func New(target Target, config Config) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		config: config,
		target: target,
		logger: logger.With("component", "checkpoint"),
	}
}

// Run ticks until ctx is cancelled. It then waits for the running
// checkpoint and, if configured, writes a final one. Checkpoint failures are
// logged and counted; Run itself only returns the final checkpoint's error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("checkpoint scheduler started", "interval", s.config.Interval)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if !s.config.FinalCheckpoint {
				return nil
			}
			s.logger.Info("writing final checkpoint")
			return s.checkpoint(context.WithoutCancel(ctx))

		case <-ticker.C:
			s.mu.Lock()
			s.stats.Ticks++
			s.mu.Unlock()

			if !s.busy.CompareAndSwap(false, true) {
				s.mu.Lock()
				s.stats.Skipped++
				s.mu.Unlock()
				s.config.Metrics.RecordCheckpointSkipped()
				s.logger.Debug("checkpoint still running, skipping tick")
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.busy.Store(false)
				s.checkpoint(ctx)
			}()
		}
	}
}

func (s *Scheduler) checkpoint(ctx context.Context) error {
	start := time.Now()
	err := s.target.Checkpoint(ctx)

	s.mu.Lock()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err
	} else {
		s.stats.Checkpoints++
		s.stats.LastCheckpoint = time.Now()
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Debug("checkpoint complete", "duration", time.Since(start))
	case errors.Is(err, context.Canceled):
		s.logger.Debug("checkpoint interrupted by shutdown")
	default:
		s.logger.Error("checkpoint failed", "error", err)
	}

	if s.config.OnCheckpoint != nil {
		s.config.OnCheckpoint(err)
	}
	return err
}

// Stats returns a copy of the scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
