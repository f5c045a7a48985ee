package services

import (
	"testing"
	"time"

	"pideck/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(clock Clock) *AlertEvaluator {
	e := NewAlertEvaluator(70, clock)
	n := 0
	e.newID = func() string {
		n++
		return string(rune('a' + n - 1))
	}
	return e
}

func TestAlertEvaluator_RaiseRefreshClear(t *testing.T) {
	clock := newManualClock()
	e := newTestEvaluator(clock)

	e.Evaluate(models.SystemSnapshot{TemperatureC: 65})
	assert.Empty(t, e.ActiveAlerts())

	e.Evaluate(models.SystemSnapshot{TemperatureC: 72.34})
	alerts := e.ActiveAlerts()
	require.Len(t, alerts, 1)
	raised := alerts[0]
	assert.Equal(t, "temperature-a", raised.ID)
	assert.Equal(t, models.AlertTemperature, raised.Type)
	assert.Equal(t, "Temperature exceeded 70°C: Currently 72.3°C", raised.Message)

	clock.Advance(5 * time.Second)
	e.Evaluate(models.SystemSnapshot{TemperatureC: 74})
	alerts = e.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, raised.ID, alerts[0].ID)
	assert.Equal(t, "Temperature remains above 70°C: Currently 74.0°C", alerts[0].Message)
	assert.True(t, alerts[0].Timestamp.After(raised.Timestamp))

	e.Evaluate(models.SystemSnapshot{TemperatureC: 70})
	assert.Empty(t, e.ActiveAlerts())

	e.Evaluate(models.SystemSnapshot{TemperatureC: 80})
	alerts = e.ActiveAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "temperature-b", alerts[0].ID)
}

func TestAlertEvaluator_Idempotent(t *testing.T) {
	clock := newManualClock()
	e := newTestEvaluator(clock)

	snap := models.SystemSnapshot{TemperatureC: 75}
	e.Evaluate(snap)
	first := e.ActiveAlerts()

	e.Evaluate(snap)
	second := e.ActiveAlerts()

	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.False(t, second[0].Timestamp.Before(first[0].Timestamp))
}

func TestAlertEvaluator_TimestampNeverGoesBack(t *testing.T) {
	clock := newManualClock()
	e := newTestEvaluator(clock)

	e.Evaluate(models.SystemSnapshot{TemperatureC: 75})
	raised := e.ActiveAlerts()[0].Timestamp

	clock.Advance(-time.Minute)
	e.Evaluate(models.SystemSnapshot{TemperatureC: 76})
	assert.Equal(t, raised, e.ActiveAlerts()[0].Timestamp)
}
