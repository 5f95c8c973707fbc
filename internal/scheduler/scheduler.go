package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner is the cleanup surface the scheduler drives, implemented by the
// session tracker. FinalizeStale returns how many sessions were closed.
type Cleaner interface {
	FinalizeStale(ctx context.Context, now time.Time) int
}

// Scheduler runs the stale-session cleanup on a fixed interval, independently
// of the ingestion path. The clock is injectable so the 24h staleness window
// can be tested without sleeping.
type Scheduler struct {
	cleaner  Cleaner
	interval time.Duration
	stopChan chan struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(cleaner Cleaner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cleaner:  cleaner,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the scheduler's clock. Intended for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Start begins the cleanup loop
func (s *Scheduler) Start() {
	s.logger.Info("Cleanup scheduler started", "component", "scheduler", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.stopChan:
			s.logger.Info("Cleanup scheduler stopped", "component", "scheduler")
			return
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Tick performs one cleanup cycle
func (s *Scheduler) Tick() {
	ctx := context.Background()
	now := s.now()

	closed := s.cleaner.FinalizeStale(ctx, now)
	if closed > 0 {
		s.logger.Info("Stale sessions closed",
			"component", "scheduler",
			"count", closed,
		)
	} else {
		s.logger.Debug("Cleanup tick", "component", "scheduler")
	}
}
