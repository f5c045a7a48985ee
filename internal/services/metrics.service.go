package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pideck/internal/cmdexec"
	"pideck/internal/logging"
	"pideck/internal/models"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

const MB = 1024 * 1024

var ErrNoCounters = errors.New("no counters for physical devices")

// MetricSource is everything the snapshot builder reads from the host.
type MetricSource interface {
	HostInfo(ctx context.Context) (models.HostInfo, error)
	CPUPercent(ctx context.Context) (float64, error)
	Memory(ctx context.Context) (models.MemoryUsage, error)
	Temperature(ctx context.Context) (float64, error)
	DiskCounters(ctx context.Context) (Counters, error)
	NetworkCounters(ctx context.Context) (Counters, error)
	Processes(ctx context.Context) ([]models.ProcessInfo, error)
}

// HostSourceConfig points the host source at the files it reads.
type HostSourceConfig struct {
	ThermalZonePath string
	ThermalDir      string
	CPUSysPath      string
	SysBlockPath    string
	CommandTimeout  time.Duration
}

// HostSource reads metrics from the local machine through gopsutil and the
// command runner.
type HostSource struct {
	sysBlockPath string
	thermalDir   string
	cpuSysPath   string
	temps        *TemperatureReader
	procs        *ProcessLister
	logger       *slog.Logger
}

var _ MetricSource = (*HostSource)(nil)

func NewHostSource(cfg HostSourceConfig, runner cmdexec.Runner, logger *slog.Logger) *HostSource {
	logger = logging.OrDiscard(logger)
	return &HostSource{
		sysBlockPath: cfg.SysBlockPath,
		thermalDir:   cfg.ThermalDir,
		cpuSysPath:   cfg.CPUSysPath,
		temps:        NewTemperatureReader(cfg.ThermalZonePath, runner, cfg.CommandTimeout),
		procs:        NewProcessLister(runner, cfg.CommandTimeout, logger),
		logger:       logger,
	}
}

func (s *HostSource) HostInfo(ctx context.Context) (models.HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return models.HostInfo{}, err
	}

	hi := models.HostInfo{
		Hostname: info.Hostname,
		OS:       strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		Kernel:   info.KernelVersion,
		Arch:     info.KernelArch,
		BootTime: time.Unix(int64(info.BootTime), 0),
	}
	if hi.OS == "" {
		hi.OS = info.OS
	}

	ip, err := primaryIP(ctx)
	if err != nil {
		s.logger.Debug("no primary address", "error", err)
	}
	hi.IP = ip

	return hi, nil
}

func (s *HostSource) CPUPercent(ctx context.Context) (float64, error) {
	percentage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percentage) == 0 {
		return 0, fmt.Errorf("cpu percent: empty result")
	}
	return round1(percentage[0]), nil
}

func (s *HostSource) Memory(ctx context.Context) (models.MemoryUsage, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.MemoryUsage{}, err
	}
	return models.MemoryUsage{
		Used:    vm.Used / MB,
		Total:   vm.Total / MB,
		Percent: math.Round(vm.UsedPercent),
	}, nil
}

func (s *HostSource) Temperature(ctx context.Context) (float64, error) {
	return s.temps.Read(ctx)
}

// DiskCounters sums sectors and busy time over whole physical disks.
// gopsutil reports bytes as sectors*SectorSize, so the division is exact.
func (s *HostSource) DiskCounters(ctx context.Context) (Counters, error) {
	stats, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return Counters{}, err
	}

	var total Counters
	devices := 0
	for name, st := range stats {
		if !s.isPhysicalDisk(name) {
			continue
		}
		total.Read += st.ReadBytes / SectorSize
		total.Write += st.WriteBytes / SectorSize
		total.Busy += st.IoTime
		devices++
	}
	if devices == 0 {
		return Counters{}, ErrNoCounters
	}
	return total, nil
}

// NetworkCounters sums rx/tx bytes over non-virtual interfaces.
func (s *HostSource) NetworkCounters(ctx context.Context) (Counters, error) {
	stats, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return Counters{}, err
	}

	var total Counters
	ifaces := 0
	for _, st := range stats {
		if isVirtualInterface(st.Name) {
			continue
		}
		total.Read += st.BytesRecv
		total.Write += st.BytesSent
		ifaces++
	}
	if ifaces == 0 {
		return Counters{}, ErrNoCounters
	}
	return total, nil
}

func (s *HostSource) Processes(ctx context.Context) ([]models.ProcessInfo, error) {
	return s.procs.List(ctx)
}

var virtualDiskPrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr", "fd"}

// isPhysicalDisk rejects virtual block devices and partitions. Partitions
// are skipped because their parent disk already counts their I/O.
func (s *HostSource) isPhysicalDisk(name string) bool {
	for _, prefix := range virtualDiskPrefixes {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	if s.sysBlockPath == "" {
		return true
	}
	_, err := os.Stat(filepath.Join(s.sysBlockPath, name, "partition"))
	return errors.Is(err, os.ErrNotExist)
}

var virtualInterfacePrefixes = []string{"veth", "docker", "br-", "virbr", "cni", "flannel"}

func isVirtualInterface(name string) bool {
	if name == "lo" {
		return true
	}
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// primaryIP returns the first IPv4 address of an interface that is up and
// not virtual.
func primaryIP(ctx context.Context) (string, error) {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if isVirtualInterface(iface.Name) || !hasFlag(iface.Flags, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, _ := strings.Cut(addr.Addr, "/")
			if strings.Count(ip, ".") == 3 {
				return ip, nil
			}
		}
	}
	return "", fmt.Errorf("no IPv4 address on a physical interface")
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// formatUptime renders a duration the way `uptime -p` does, without the
// leading "up".
func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return "0 minutes"
	}

	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
