package models

import "time"

type AlertType string

const AlertTemperature AlertType = "temperature"

type ActiveAlert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
