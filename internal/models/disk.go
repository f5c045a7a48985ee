package models

// DiskIO is the aggregate throughput of all physical block devices.
type DiskIO struct {
	ReadKBs            float64 `json:"readKBs"`
	WriteKBs           float64 `json:"writeKBs"`
	UtilizationPercent float64 `json:"utilizationPercent"`
}
