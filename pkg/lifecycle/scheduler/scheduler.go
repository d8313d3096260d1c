// Package scheduler periodically publishes content whose scheduled publish
// time has passed.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DuePublisher publishes items that are due. lifecycle.Service implements it.
type DuePublisher interface {
	PublishDue(ctx context.Context, now time.Time) (int, error)
}

// Observer is told about every run. *metrics.Metrics implements it.
type Observer interface {
	ObservePublishDue(published int, elapsed time.Duration, err error)
}

// DefaultInterval is how often Run checks for due items.
const DefaultInterval = time.Minute

// Scheduler runs PublishDue on an interval.
type Scheduler struct {
	publisher DuePublisher
	interval  time.Duration
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithInterval sets the polling interval
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithObserver reports each run to o
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithLogger sets the scheduler logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler for publisher
func New(publisher DuePublisher, options ...Option) *Scheduler {
	s := &Scheduler{
		publisher: publisher,
		interval:  DefaultInterval,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// RunOnce publishes everything due now.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	published, err := s.publisher.PublishDue(ctx, s.now().UTC())
	if s.observer != nil {
		s.observer.ObservePublishDue(published, time.Since(start), err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Scheduled publish run failed", "published", published, "err", err)
		return published, err
	}
	if published > 0 {
		s.logger.InfoContext(ctx, "Published scheduled content", "published", published)
	}
	return published, nil
}

// Run calls RunOnce immediately and then every interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "interval", s.interval)
	_, _ = s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}
