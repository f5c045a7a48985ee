package services

import "time"

// Clock supplies timestamps. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func orSystemClock(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
