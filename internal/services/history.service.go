package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"
)

const (
	DefaultHistoryRetention = 24 * time.Hour
	DefaultHistoryQueue     = 32

	historyWriteTimeout = 5 * time.Second
)

var ErrHistoryClosed = errors.New("history store closed")

// HistoryStore persists history records. Append must insert rec and delete
// every record older than cutoff as one operation. Since returns records
// with Timestamp >= since in ascending timestamp order.
type HistoryStore interface {
	Append(ctx context.Context, rec models.HistoricalMetricRecord, cutoff time.Time) (models.HistoricalMetricRecord, error)
	Since(ctx context.Context, since time.Time) ([]models.HistoricalMetricRecord, error)
	Close() error
}

// NewHistoricalRecord reduces a snapshot to its rounded integer projection.
func NewHistoricalRecord(s models.SystemSnapshot) models.HistoricalMetricRecord {
	return models.HistoricalMetricRecord{
		Timestamp:      s.Timestamp,
		CPUUsage:       roundInt(s.CPUPercent),
		MemoryUsage:    roundInt(s.Memory.Percent),
		Temperature:    roundInt(s.TemperatureC),
		DiskReadSpeed:  roundInt(s.DiskIO.ReadKBs),
		DiskWriteSpeed: roundInt(s.DiskIO.WriteKBs),
		NetworkRx:      roundInt(s.Network.RxKBs),
		NetworkTx:      roundInt(s.Network.TxKBs),
	}
}

func roundInt(v float64) int64 {
	return int64(math.Round(v))
}

// HistoryService keeps the bounded-retention metric history. Writes go
// through a single queue so records land in poll order.
type HistoryService struct {
	store     HistoryStore
	retention time.Duration
	clock     Clock
	queue     chan models.SystemSnapshot
	telemetry *Telemetry
	logger    *slog.Logger
}

func NewHistoryService(store HistoryStore, retention time.Duration, queueSize int, clock Clock, telemetry *Telemetry, logger *slog.Logger) *HistoryService {
	if retention <= 0 {
		retention = DefaultHistoryRetention
	}
	if queueSize <= 0 {
		queueSize = DefaultHistoryQueue
	}
	return &HistoryService{
		store:     store,
		retention: retention,
		clock:     orSystemClock(clock),
		queue:     make(chan models.SystemSnapshot, queueSize),
		telemetry: telemetry,
		logger:    logging.OrDiscard(logger),
	}
}

func (h *HistoryService) Retention() time.Duration {
	return h.retention
}

// Record writes one snapshot and prunes expired records in the same store
// operation. Failures are logged and the sample is dropped.
func (h *HistoryService) Record(ctx context.Context, snap models.SystemSnapshot) {
	cutoff := h.clock.Now().Add(-h.retention)
	if _, err := h.store.Append(ctx, NewHistoricalRecord(snap), cutoff); err != nil {
		h.telemetry.HistoryWriteFailed()
		h.logger.Warn("history write failed, sample dropped", "timestamp", snap.Timestamp, "error", err)
	}
}

// Submit queues a snapshot for the writer goroutine without blocking. It
// reports false when the queue is full and the sample was dropped.
func (h *HistoryService) Submit(snap models.SystemSnapshot) bool {
	select {
	case h.queue <- snap:
		return true
	default:
		h.telemetry.HistoryWriteFailed()
		h.logger.Warn("history queue full, sample dropped", "timestamp", snap.Timestamp)
		return false
	}
}

// Run drains the write queue until ctx is cancelled, then flushes what is
// already queued.
func (h *HistoryService) Run(ctx context.Context) error {
	for {
		select {
		case snap := <-h.queue:
			h.write(ctx, snap)
		case <-ctx.Done():
			h.flush()
			return nil
		}
	}
}

func (h *HistoryService) flush() {
	for {
		select {
		case snap := <-h.queue:
			h.write(context.Background(), snap)
		default:
			return
		}
	}
}

func (h *HistoryService) write(ctx context.Context, snap models.SystemSnapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	h.Record(ctx, snap)
}

// Query returns the records of the last window, oldest first. The window is
// clamped to the retention period.
func (h *HistoryService) Query(ctx context.Context, window time.Duration) ([]models.HistoricalMetricRecord, error) {
	if window <= 0 || window > h.retention {
		window = h.retention
	}
	recs, err := h.store.Since(ctx, h.clock.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.HistoricalMetricRecord{}
	}
	return recs, nil
}

func (h *HistoryService) Close() error {
	return h.store.Close()
}

// MemoryHistoryStore keeps records in a time-ordered slice. It backs tests
// and the "memory" history backend.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records []models.HistoricalMetricRecord
	nextID  int64
	closed  bool
}

var _ HistoryStore = (*MemoryHistoryStore)(nil)

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (m *MemoryHistoryStore) Append(_ context.Context, rec models.HistoricalMetricRecord, cutoff time.Time) (models.HistoricalMetricRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.HistoricalMetricRecord{}, ErrHistoryClosed
	}

	m.nextID++
	rec.ID = m.nextID

	// Keep the slice ordered even if a late record arrives.
	idx := sort.Search(len(m.records), func(i int) bool {
		return m.records[i].Timestamp.After(rec.Timestamp)
	})
	m.records = append(m.records, models.HistoricalMetricRecord{})
	copy(m.records[idx+1:], m.records[idx:])
	m.records[idx] = rec

	expired := sort.Search(len(m.records), func(i int) bool {
		return !m.records[i].Timestamp.Before(cutoff)
	})
	if expired > 0 {
		m.records = append([]models.HistoricalMetricRecord(nil), m.records[expired:]...)
	}

	return rec, nil
}

func (m *MemoryHistoryStore) Since(_ context.Context, since time.Time) ([]models.HistoricalMetricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrHistoryClosed
	}

	start := sort.Search(len(m.records), func(i int) bool {
		return !m.records[i].Timestamp.Before(since)
	})
	out := make([]models.HistoricalMetricRecord, len(m.records)-start)
	copy(out, m.records[start:])
	return out, nil
}

// Len reports how many records are stored.
func (m *MemoryHistoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryHistoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
