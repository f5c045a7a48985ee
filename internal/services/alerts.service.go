package services

import (
	"fmt"
	"sort"
	"sync"

	"pideck/internal/models"

	"github.com/google/uuid"
)

// DefaultTemperatureThreshold is the alerting limit in °C.
const DefaultTemperatureThreshold = 70.0

// AlertEvaluator tracks at most one active alert per type. There is no
// hysteresis band: a reading that oscillates around the threshold raises
// and clears the alert on consecutive polls.
type AlertEvaluator struct {
	mu        sync.RWMutex
	threshold float64
	clock     Clock
	active    map[models.AlertType]models.ActiveAlert
	newID     func() string
}

func NewAlertEvaluator(threshold float64, clock Clock) *AlertEvaluator {
	if threshold <= 0 {
		threshold = DefaultTemperatureThreshold
	}
	return &AlertEvaluator{
		threshold: threshold,
		clock:     orSystemClock(clock),
		active:    make(map[models.AlertType]models.ActiveAlert),
		newID:     uuid.NewString,
	}
}

// Evaluate applies the latest snapshot to every alert type.
func (e *AlertEvaluator) Evaluate(snap models.SystemSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluateTemperature(snap.TemperatureC)
}

func (e *AlertEvaluator) evaluateTemperature(value float64) {
	current, active := e.active[models.AlertTemperature]

	if value <= e.threshold {
		if active {
			delete(e.active, models.AlertTemperature)
		}
		return
	}

	now := e.clock.Now()
	if !active {
		e.active[models.AlertTemperature] = models.ActiveAlert{
			ID:        "temperature-" + e.newID(),
			Type:      models.AlertTemperature,
			Message:   fmt.Sprintf("Temperature exceeded %.0f°C: Currently %.1f°C", e.threshold, value),
			Timestamp: now,
		}
		return
	}

	if now.Before(current.Timestamp) {
		now = current.Timestamp
	}
	current.Message = fmt.Sprintf("Temperature remains above %.0f°C: Currently %.1f°C", e.threshold, value)
	current.Timestamp = now
	e.active[models.AlertTemperature] = current
}

// ActiveAlerts returns the live alerts ordered by type.
func (e *AlertEvaluator) ActiveAlerts() []models.ActiveAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.ActiveAlert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
