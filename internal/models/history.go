package models

import "time"

// HistoricalMetricRecord is the integer projection of a SystemSnapshot kept
// for the history charts.
type HistoricalMetricRecord struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	CPUUsage       int64     `json:"cpuUsage"`
	MemoryUsage    int64     `json:"memoryUsage"`
	Temperature    int64     `json:"temperature"`
	DiskReadSpeed  int64     `json:"diskReadSpeed"`
	DiskWriteSpeed int64     `json:"diskWriteSpeed"`
	NetworkRx      int64     `json:"networkRx"`
	NetworkTx      int64     `json:"networkTx"`
}
