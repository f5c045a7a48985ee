package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pideck/internal/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const GB = 1024 * 1024 * 1024

const (
	freqUnavailable = "Unavailable"
	tempUnavailable = "N/A"
)

var ErrNoCores = errors.New("no cpu cores found")

var corePattern = regexp.MustCompile(`^cpu[0-9]+$`)

// HostMetricsSource serves the read-only detail endpoints that sit next to
// the snapshot: storage, memory breakdown, per-core CPU and thermal zones.
type HostMetricsSource interface {
	Filesystems(ctx context.Context) ([]models.FilesystemUsage, error)
	Mounts(ctx context.Context) ([]models.MountInfo, error)
	RAM(ctx context.Context) (models.MemoryStats, error)
	Swap(ctx context.Context) (models.SwapStats, error)
	CPUCores(ctx context.Context) ([]models.CPUCoreStatus, error)
	ThermalZones(ctx context.Context) ([]models.ThermalZone, error)
}

var _ HostMetricsSource = (*HostSource)(nil)

// Filesystems returns usage for every physical partition. A partition whose
// usage cannot be read is skipped.
func (s *HostSource) Filesystems(ctx context.Context) ([]models.FilesystemUsage, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.FilesystemUsage, 0, len(partitions))
	for _, p := range partitions {
		if isPseudoFilesystem(p.Device, p.Fstype) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			s.logger.Warn("could not get disk usage", "mount", p.Mountpoint, "error", err)
			continue
		}
		statuses = append(statuses, models.FilesystemUsage{
			Source:       p.Device,
			Mount:        p.Mountpoint,
			Filesystem:   p.Fstype,
			TotalGB:      round2(float64(usage.Total) / GB),
			UsedGB:       round2(float64(usage.Used) / GB),
			FreeGB:       round2(float64(usage.Free) / GB),
			UsagePercent: round1(usage.UsedPercent),
		})
	}
	return statuses, nil
}

// Mounts lists every mount point, snap mounts excluded.
func (s *HostSource) Mounts(ctx context.Context) ([]models.MountInfo, error) {
	partitions, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	mounts := make([]models.MountInfo, 0, len(partitions))
	for _, p := range partitions {
		if strings.Contains(p.Device, "snap") || strings.Contains(p.Mountpoint, "snap") {
			continue
		}
		mounts = append(mounts, models.MountInfo{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			FSType:     p.Fstype,
			Options:    strings.Join(p.Opts, ","),
		})
	}
	return mounts, nil
}

func (s *HostSource) RAM(ctx context.Context) (models.MemoryStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.MemoryStats{}, err
	}
	stats := models.MemoryStats{
		Total: vm.Total / MB,
		Used:  vm.Used / MB,
		Free:  vm.Free / MB,
	}
	if stats.Total > 0 {
		stats.Usage = math.Round(float64(stats.Used) / float64(stats.Total) * 100)
	}
	return stats, nil
}

func (s *HostSource) Swap(ctx context.Context) (models.SwapStats, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return models.SwapStats{}, err
	}
	return models.SwapStats{
		Total: sw.Total / MB,
		Used:  sw.Used / MB,
		Free:  sw.Free / MB,
	}, nil
}

// CPUCores pairs the per-core usage from gopsutil with the current scaling
// frequency from sysfs. Usage is left at 0 when gopsutil fails; frequency
// is the only part the cores cannot do without.
func (s *HostSource) CPUCores(ctx context.Context) ([]models.CPUCoreStatus, error) {
	cores, err := readCoreFrequencies(s.cpuSysPath)
	if err != nil {
		return nil, err
	}

	percents, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		s.logger.Debug("per-core cpu percent unavailable", "error", err)
	}
	for i := range cores {
		if i < len(percents) {
			cores[i].UsagePercent = round1(percents[i])
		}
	}
	return cores, nil
}

func (s *HostSource) ThermalZones(context.Context) ([]models.ThermalZone, error) {
	return scanThermalZones(s.thermalDir)
}

// readCoreFrequencies lists cpuN directories under dir in numeric order and
// reads each core's scaling_cur_freq (kHz).
func readCoreFrequencies(dir string) ([]models.CPUCoreStatus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if corePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, ErrNoCores
	}
	sort.Slice(names, func(i, j int) bool {
		return coreIndex(names[i]) < coreIndex(names[j])
	})

	cores := make([]models.CPUCoreStatus, 0, len(names))
	for _, name := range names {
		cores = append(cores, models.CPUCoreStatus{
			Core: name,
			Freq: readFrequency(filepath.Join(dir, name, "cpufreq", "scaling_cur_freq")),
		})
	}
	return cores, nil
}

func coreIndex(name string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "cpu"))
	return n
}

func readFrequency(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return freqUnavailable
	}
	khz, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || khz <= 0 {
		return freqUnavailable
	}
	return fmt.Sprintf("%.2f GHz", float64(khz)/1_000_000)
}

// scanThermalZones reads type and temp of every thermal_zone* under dir.
// A zone that cannot be read keeps the "Unknown" label and an "N/A" reading.
func scanThermalZones(dir string) ([]models.ThermalZone, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	zones := []models.ThermalZone{}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "thermal_zone") {
			continue
		}
		zones = append(zones, readThermalZone(filepath.Join(dir, e.Name()), e.Name()))
	}
	return zones, nil
}

func readThermalZone(path, name string) models.ThermalZone {
	zone := models.ThermalZone{Zone: name, Label: "Unknown", Temp: tempUnavailable}

	label, err := os.ReadFile(filepath.Join(path, "type"))
	if err != nil {
		return zone
	}
	zone.Label = strings.TrimSpace(string(label))

	raw, err := os.ReadFile(filepath.Join(path, "temp"))
	if err != nil {
		return zone
	}
	milli, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return zone
	}
	zone.TemperatureC = math.Round(float64(milli)/100) / 10
	zone.Temp = fmt.Sprintf("%.1f°C", zone.TemperatureC)
	return zone
}

var pseudoSourcePrefixes = []string{"tmpfs", "loop", "overlay"}

func isPseudoFilesystem(device, fstype string) bool {
	if fstype == "squashfs" || strings.Contains(device, "snap") || strings.Contains(device, "squashfs") {
		return true
	}
	for _, prefix := range pseudoSourcePrefixes {
		if strings.HasPrefix(device, prefix) || strings.HasPrefix(device, "/dev/"+prefix) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
