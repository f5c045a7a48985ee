package services

import (
	"context"
	"log/slog"
	"time"

	"pideck/internal/logging"
)

const DefaultPollInterval = 5 * time.Second

// Scheduler polls the monitor on a fixed interval. A tick that arrives while
// the previous poll is still running is skipped.
type Scheduler struct {
	monitor  *Monitor
	interval time.Duration
	logger   *slog.Logger
}

func NewScheduler(monitor *Monitor, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Scheduler{monitor: monitor, interval: interval, logger: logging.OrDiscard(logger)}
}

// Run polls once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("poll scheduler started", "interval", s.interval)
	s.monitor.TryPoll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("poll scheduler stopped")
			return nil
		case <-ticker.C:
			s.monitor.TryPoll(ctx)
		}
	}
}
