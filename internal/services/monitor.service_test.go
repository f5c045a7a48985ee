package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"pideck/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	snaps []models.SystemSnapshot
}

func (p *recordingPublisher) Publish(s models.SystemSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, s)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func newTestMonitor(t *testing.T, clock *manualClock, source *fakeSource) (*Monitor, *MemoryHistoryStore, *HistoryService) {
	t.Helper()

	store := NewMemoryHistoryStore()
	history := NewHistoryService(store, time.Hour, 16, clock, nil, nil)
	m := NewMonitor(MonitorConfig{SnapshotMaxAge: 2 * time.Second},
		newTestBuilder(source, clock, time.Second), history, NewAlertEvaluator(70, clock), clock, nil, nil)
	return m, store, history
}

func TestMonitor_GetSnapshotUsesCache(t *testing.T) {
	clock := newManualClock()
	source := newHealthySource(clock)
	m, _, _ := newTestMonitor(t, clock, source)
	pub := &recordingPublisher{}
	m.SetPublisher(pub)
	ctx := context.Background()

	first := m.GetSnapshot(ctx)
	clock.Advance(time.Second)
	cached := m.GetSnapshot(ctx)
	assert.Equal(t, first.Timestamp, cached.Timestamp)
	assert.Equal(t, 1, pub.count())

	clock.Advance(2 * time.Second)
	fresh := m.GetSnapshot(ctx)
	assert.True(t, fresh.Timestamp.After(first.Timestamp))
	assert.Equal(t, 2, pub.count())
}

func TestMonitor_PollFeedsAlertsAndHistory(t *testing.T) {
	clock := newManualClock()
	source := newHealthySource(clock)
	source.temp = 81
	m, store, history := newTestMonitor(t, clock, source)

	m.Poll(context.Background())

	alerts := m.GetActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, models.AlertTemperature, alerts[0].Type)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, history.Run(ctx))
	assert.Equal(t, 1, store.Len())

	recs, err := m.GetHistory(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(81), recs[0].Temperature)
}

func TestMonitor_TryPollSkipsWhileBusy(t *testing.T) {
	clock := newManualClock()
	source := newHealthySource(clock)
	m, _, _ := newTestMonitor(t, clock, source)

	m.pollMu.Lock()
	_, ran := m.TryPoll(context.Background())
	m.pollMu.Unlock()
	assert.False(t, ran)

	_, ran = m.TryPoll(context.Background())
	assert.True(t, ran)
	_, ok := m.Latest()
	assert.True(t, ok)
}
