package models

import "time"

// SystemSnapshot is the per-poll aggregate handed to the history store, the
// alert evaluator and HTTP clients. It is never mutated after it is built.
type SystemSnapshot struct {
	Hostname     string        `json:"hostname"`
	OS           string        `json:"os"`
	Kernel       string        `json:"kernel"`
	Arch         string        `json:"arch"`
	Uptime       string        `json:"uptime"`
	IP           string        `json:"ip"`
	CPUPercent   float64       `json:"cpuPercent"`
	Memory       MemoryUsage   `json:"memory"`
	TemperatureC float64       `json:"temperatureC"`
	DiskIO       DiskIO        `json:"diskIO"`
	Network      NetworkRate   `json:"network"`
	Processes    []ProcessInfo `json:"processes"`
	Timestamp    time.Time     `json:"timestamp"`
}

// MemoryUsage is expressed in megabytes.
type MemoryUsage struct {
	Used    uint64  `json:"used"`
	Total   uint64  `json:"total"`
	Percent float64 `json:"percent"`
}

// HostInfo holds the slow-changing facts about the host.
type HostInfo struct {
	Hostname string    `json:"hostname"`
	OS       string    `json:"os"`
	Kernel   string    `json:"kernel"`
	Arch     string    `json:"arch"`
	IP       string    `json:"ip"`
	BootTime time.Time `json:"bootTime"`
}

// MemoryStats is the RAM breakdown in megabytes.
type MemoryStats struct {
	Total uint64  `json:"total"`
	Used  uint64  `json:"used"`
	Free  uint64  `json:"free"`
	Usage float64 `json:"usage"`
}

// SwapStats is the swap breakdown in megabytes.
type SwapStats struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}
