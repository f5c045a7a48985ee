package models

// FilesystemUsage is the space usage of one mounted block-backed filesystem.
// Sizes are in gigabytes.
type FilesystemUsage struct {
	Source       string  `json:"source"`
	Mount        string  `json:"mount"`
	Filesystem   string  `json:"filesystem"`
	TotalGB      float64 `json:"totalGB"`
	UsedGB       float64 `json:"usedGB"`
	FreeGB       float64 `json:"freeGB"`
	UsagePercent float64 `json:"usagePercent"`
}

type MountInfo struct {
	Device     string `json:"device"`
	Mountpoint string `json:"mountpoint"`
	FSType     string `json:"fstype"`
	Options    string `json:"options"`
}
