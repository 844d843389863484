// Package scheduler runs the daily vesting batch on a fixed interval.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// Runner is the batch the scheduler drives.
type Runner interface {
	RunDaily(ctx context.Context) (vesting.Summary, error)
}

// Config tunes a Scheduler.
type Config struct {
	Interval time.Duration
	// Timeout bounds each run. Zero means no bound beyond the parent context.
	Timeout    time.Duration
	RunOnStart bool
}

// Scheduler invokes RunDaily once per interval. A run is idempotent per
// tenant-local date, so ticking more often than daily only catches grants up
// sooner.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
}

// New creates a scheduler.
func New(runner Runner, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{runner: runner, cfg: cfg, logger: logger}
}

// Start blocks until ctx is done. Runs never overlap: a tick that arrives
// while a run is in progress is dropped by the ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.logger.Info("batch scheduler disabled")
		<-ctx.Done()
		return nil
	}

	s.logger.Info("starting batch scheduler", "interval", s.cfg.Interval, "run_on_start", s.cfg.RunOnStart)
	if s.cfg.RunOnStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("batch scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	summary, err := s.runner.RunDaily(runCtx)
	if err != nil {
		s.logger.Error("scheduled batch run failed", "error", err, "events", summary.EventsCreated, "grants", summary.GrantsProcessed)
		return
	}
	if summary.Skipped {
		s.logger.Info("scheduled batch run skipped, lease held elsewhere")
		return
	}
	if len(summary.Errors) > 0 {
		s.logger.Warn("scheduled batch run finished with errors", "errors", len(summary.Errors), "events", summary.EventsCreated)
	}
}
