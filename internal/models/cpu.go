package models

// CPUCoreStatus is the live state of one logical core. Freq is a display
// string such as "1.50 GHz", "Unavailable" when the core exposes no cpufreq
// data.
type CPUCoreStatus struct {
	Core         string  `json:"core"`
	Freq         string  `json:"freq"`
	UsagePercent float64 `json:"usagePercent"`
}

// ThermalZone is one kernel thermal zone. Temp is "N/A" when the zone could
// not be read.
type ThermalZone struct {
	Zone         string  `json:"zone"`
	Label        string  `json:"label"`
	Temp         string  `json:"temp"`
	TemperatureC float64 `json:"temperatureC"`
}
