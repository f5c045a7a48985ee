package services

import (
	"context"
	"testing"
	"time"

	"pideck/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotAt(ts time.Time, cpu float64) models.SystemSnapshot {
	return models.SystemSnapshot{
		Timestamp:    ts,
		CPUPercent:   cpu,
		Memory:       models.MemoryUsage{Percent: 33.4},
		TemperatureC: 51.6,
		DiskIO:       models.DiskIO{ReadKBs: 10.5, WriteKBs: 2.4},
		Network:      models.NetworkRate{RxKBs: 1.5, TxKBs: 0.4},
	}
}

func TestNewHistoricalRecord(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := NewHistoricalRecord(snapshotAt(ts, 12.5))

	assert.Equal(t, models.HistoricalMetricRecord{
		Timestamp:      ts,
		CPUUsage:       13,
		MemoryUsage:    33,
		Temperature:    52,
		DiskReadSpeed:  11,
		DiskWriteSpeed: 2,
		NetworkRx:      2,
		NetworkTx:      0,
	}, rec)
}

func TestHistoryService_Retention(t *testing.T) {
	clock := newManualClock()
	store := NewMemoryHistoryStore()
	h := NewHistoryService(store, time.Hour, 8, clock, nil, nil)
	ctx := context.Background()

	for range 10 {
		h.Record(ctx, snapshotAt(clock.Now(), 10))
		clock.Advance(15 * time.Minute)
	}

	recs, err := store.Since(ctx, time.Time{})
	require.NoError(t, err)

	// The last write happened at +135m, so only records at or after +75m
	// survive.
	cutoff := clock.Now().Add(-15 * time.Minute).Add(-time.Hour)
	for _, r := range recs {
		assert.False(t, r.Timestamp.Before(cutoff), "record %s older than retention", r.Timestamp)
	}
	assert.Len(t, recs, 5)
}

func TestHistoryService_Query(t *testing.T) {
	clock := newManualClock()
	h := NewHistoryService(NewMemoryHistoryStore(), time.Hour, 8, clock, nil, nil)
	ctx := context.Background()

	for range 6 {
		h.Record(ctx, snapshotAt(clock.Now(), 1))
		clock.Advance(10 * time.Minute)
	}
	// now = start + 60m; records at 0,10,...,50.

	cases := []struct {
		desc   string
		window time.Duration
		count  int
	}{
		{desc: "default is retention", window: 0, count: 6},
		{desc: "short window", window: 25 * time.Minute, count: 2},
		{desc: "window longer than retention is clamped", window: 48 * time.Hour, count: 6},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			recs, err := h.Query(ctx, tc.window)
			require.NoError(t, err)
			assert.Len(t, recs, tc.count)
		})
	}
}

func TestHistoryService_RunDrainsQueue(t *testing.T) {
	clock := newManualClock()
	store := NewMemoryHistoryStore()
	h := NewHistoryService(store, time.Hour, 4, clock, nil, nil)

	for i := range 3 {
		require.True(t, h.Submit(snapshotAt(clock.Now().Add(time.Duration(i)*time.Second), float64(i))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))

	recs, err := store.Since(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, int64(i), r.CPUUsage)
	}
}

func TestHistoryService_SubmitDropsWhenFull(t *testing.T) {
	h := NewHistoryService(NewMemoryHistoryStore(), time.Hour, 1, newManualClock(), nil, nil)

	assert.True(t, h.Submit(models.SystemSnapshot{}))
	assert.False(t, h.Submit(models.SystemSnapshot{}))
}

func TestHistoryService_WriteFailureIsSwallowed(t *testing.T) {
	store := NewMemoryHistoryStore()
	require.NoError(t, store.Close())

	h := NewHistoryService(store, time.Hour, 1, newManualClock(), nil, nil)
	assert.NotPanics(t, func() { h.Record(context.Background(), models.SystemSnapshot{}) })
}
