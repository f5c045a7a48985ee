package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"
)

// DefaultSnapshotMaxAge is how old a cached snapshot may be before
// GetSnapshot polls again.
const DefaultSnapshotMaxAge = 2 * time.Second

// SnapshotPublisher receives every freshly built snapshot.
type SnapshotPublisher interface {
	Publish(snap models.SystemSnapshot)
}

// Monitor is the pull-based entry point of the metrics engine. Polls are
// serialized, so the sampler and alert state are never advanced by two
// polls at once.
type Monitor struct {
	builder   *SnapshotBuilder
	history   *HistoryService
	alerts    *AlertEvaluator
	publisher SnapshotPublisher
	clock     Clock
	maxAge    time.Duration
	telemetry *Telemetry
	logger    *slog.Logger

	pollMu    sync.Mutex
	latestMu  sync.RWMutex
	latest    models.SystemSnapshot
	hasLatest bool
}

type MonitorConfig struct {
	SnapshotMaxAge time.Duration
}

func NewMonitor(cfg MonitorConfig, builder *SnapshotBuilder, history *HistoryService, alerts *AlertEvaluator, clock Clock, telemetry *Telemetry, logger *slog.Logger) *Monitor {
	if cfg.SnapshotMaxAge < 0 {
		cfg.SnapshotMaxAge = 0
	}
	return &Monitor{
		builder:   builder,
		history:   history,
		alerts:    alerts,
		clock:     orSystemClock(clock),
		maxAge:    cfg.SnapshotMaxAge,
		telemetry: telemetry,
		logger:    logging.OrDiscard(logger),
	}
}

// SetPublisher registers the live snapshot fan-out. Call before polling
// starts.
func (m *Monitor) SetPublisher(p SnapshotPublisher) {
	m.publisher = p
}

// Poll builds a new snapshot, waiting for any poll already in flight.
func (m *Monitor) Poll(ctx context.Context) models.SystemSnapshot {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.poll(ctx)
}

// TryPoll builds a new snapshot unless another poll is running, in which
// case it returns false immediately.
func (m *Monitor) TryPoll(ctx context.Context) (models.SystemSnapshot, bool) {
	if !m.pollMu.TryLock() {
		m.telemetry.PollSkipped()
		m.logger.Debug("poll still running, skipping tick")
		return models.SystemSnapshot{}, false
	}
	defer m.pollMu.Unlock()
	return m.poll(ctx), true
}

func (m *Monitor) poll(ctx context.Context) models.SystemSnapshot {
	start := time.Now()
	snap := m.builder.Build(ctx)

	m.alerts.Evaluate(snap)
	if m.history != nil {
		m.history.Submit(snap)
	}

	m.latestMu.Lock()
	m.latest = snap
	m.hasLatest = true
	m.latestMu.Unlock()

	if m.publisher != nil {
		m.publisher.Publish(snap)
	}

	elapsed := time.Since(start)
	m.telemetry.PollFinished(elapsed, snap.TemperatureC)
	m.logger.Debug("poll finished", "duration", elapsed, "cpu", snap.CPUPercent, "temperature", snap.TemperatureC)

	return snap
}

// GetSnapshot returns the latest snapshot when it is younger than the
// configured max age, and polls otherwise.
func (m *Monitor) GetSnapshot(ctx context.Context) models.SystemSnapshot {
	if snap, ok := m.fresh(); ok {
		return snap
	}

	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	// A poll may have finished while we were waiting for the lock.
	if snap, ok := m.fresh(); ok {
		return snap
	}
	return m.poll(ctx)
}

// Latest returns the last built snapshot, if any.
func (m *Monitor) Latest() (models.SystemSnapshot, bool) {
	m.latestMu.RLock()
	defer m.latestMu.RUnlock()
	return m.latest, m.hasLatest
}

func (m *Monitor) fresh() (models.SystemSnapshot, bool) {
	snap, ok := m.Latest()
	if !ok || m.maxAge <= 0 {
		return models.SystemSnapshot{}, false
	}
	if m.clock.Now().Sub(snap.Timestamp) >= m.maxAge {
		return models.SystemSnapshot{}, false
	}
	return snap, true
}

// GetHistory returns the history of the last window, oldest first.
func (m *Monitor) GetHistory(ctx context.Context, window time.Duration) ([]models.HistoricalMetricRecord, error) {
	if m.history == nil {
		return []models.HistoricalMetricRecord{}, nil
	}
	return m.history.Query(ctx, window)
}

func (m *Monitor) GetActiveAlerts() []models.ActiveAlert {
	return m.alerts.ActiveAlerts()
}
