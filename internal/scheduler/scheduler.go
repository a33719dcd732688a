// Package scheduler triggers scan runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
	"github.com/good-yellow-bee/keywatch/internal/metrics"
)

// ErrRunActive is returned when a run is requested while another is active.
var ErrRunActive = errors.New("scan run already in progress")

// RunFunc performs one scan run.
type RunFunc func(ctx context.Context) (*alerting.RunReport, error)

// Config configures the scheduler.
type Config struct {
	Interval   time.Duration // Time between runs (default: 1m)
	Timeout    time.Duration // Deadline for a single run (default: Interval)
	RunOnStart bool          // Run immediately instead of waiting for the first tick
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Minute,
		RunOnStart: true,
	}
}

// Scheduler runs at most one scan at a time. Ticks that arrive while a run
// is active are skipped.
type Scheduler struct {
	config Config
	run    RunFunc
	logger *zap.Logger

	running    atomic.Bool
	lastReport atomic.Pointer[alerting.RunReport]
	runs       atomic.Int64
	skipped    atomic.Int64
	wg         sync.WaitGroup
}

// New creates a scheduler.
func New(run RunFunc, config Config, logger *zap.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = config.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config: config,
		run:    run,
		logger: logger,
	}
}

// Start runs the tick loop until ctx is cancelled, then waits for any
// in-flight run to finish.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("timeout", s.config.Timeout))

	if s.config.RunOnStart {
		s.Trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped", zap.Int64("runs", s.runs.Load()), zap.Int64("skipped", s.skipped.Load()))
			return
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// Trigger starts a run in the background. It returns false when a run is
// already active.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.ScanRunsSkipped.Inc()
		s.logger.Warn("previous scan run still active, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.execute(ctx)
	}()
	return true
}

// RunOnce performs a run synchronously.
func (s *Scheduler) RunOnce(ctx context.Context) (*alerting.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer s.running.Store(false)
	return s.execute(ctx)
}

func (s *Scheduler) execute(ctx context.Context) (*alerting.RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	report, err := s.run(ctx)
	took := time.Since(start)
	s.runs.Add(1)
	metrics.ObserveRun(report, err, took)

	if err != nil {
		s.logger.Error("scan run failed", zap.Error(err), zap.Duration("duration", took))
		return nil, err
	}
	s.lastReport.Store(report)
	return report, nil
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastReport returns the most recent successful run report, or nil.
func (s *Scheduler) LastReport() *alerting.RunReport {
	return s.lastReport.Load()
}

// Stats returns the number of completed and skipped runs.
func (s *Scheduler) Stats() (runs, skipped int64) {
	return s.runs.Load(), s.skipped.Load()
}
