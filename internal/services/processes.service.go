package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"pideck/internal/cmdexec"
	"pideck/internal/logging"
	"pideck/internal/models"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultTopProcesses is how many processes a snapshot carries.
const DefaultTopProcesses = 5

// ProcessLister lists processes with ps and falls back to gopsutil when ps
// is missing or fails.
type ProcessLister struct {
	runner  cmdexec.Runner
	timeout time.Duration
	logger  *slog.Logger
}

func NewProcessLister(runner cmdexec.Runner, timeout time.Duration, logger *slog.Logger) *ProcessLister {
	return &ProcessLister{runner: runner, timeout: timeout, logger: logging.OrDiscard(logger)}
}

// List returns every process visible to the agent, unsorted.
func (l *ProcessLister) List(ctx context.Context) ([]models.ProcessInfo, error) {
	procs, err := l.collectFromPs(ctx)
	if err == nil {
		return procs, nil
	}
	l.logger.Debug("ps listing failed, using gopsutil", "error", err)

	return collectFromUniversal(ctx)
}

// COLLECT: ps output, one process per line, no header.
func (l *ProcessLister) collectFromPs(ctx context.Context) ([]models.ProcessInfo, error) {
	res, err := l.runner.Run(ctx, l.timeout, "ps", "-eo", "pid=,comm=,%cpu=,%mem=")
	if err != nil {
		return nil, err
	}
	return parsePsOutput(string(res.Stdout))
}

// parsePsOutput reads "pid comm %cpu %mem" rows. comm may contain spaces,
// so the name is everything between the first and the last two fields.
func parsePsOutput(out string) ([]models.ProcessInfo, error) {
	var procs []models.ProcessInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		pid, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(fields[len(fields)-2], 64)
		if err != nil {
			continue
		}
		mem, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			continue
		}
		procs = append(procs, models.ProcessInfo{
			PID:        int32(pid),
			Name:       strings.Join(fields[1:len(fields)-2], " "),
			CPUPercent: cpu,
			MemPercent: mem,
		})
	}
	if len(procs) == 0 {
		return nil, fmt.Errorf("no processes in ps output")
	}
	return procs, nil
}

// COLLECT: gopsutil, for hosts without a usable ps.
func collectFromUniversal(ctx context.Context) ([]models.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ProcessInfo, 0, len(procs))
	seenPIDs := make(map[int32]bool, len(procs))
	for _, p := range procs {
		if seenPIDs[p.Pid] {
			continue
		}
		seenPIDs[p.Pid] = true

		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPercent, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			cpuPercent = 0
		}
		memPercent, err := p.MemoryPercentWithContext(ctx)
		if err != nil {
			memPercent = 0
		}

		out = append(out, models.ProcessInfo{
			PID:        p.Pid,
			Name:       name,
			CPUPercent: round1(cpuPercent),
			MemPercent: round1(float64(memPercent)),
		})
	}

	return out, nil
}

// SelectTopProcesses sorts by CPU% descending, breaking ties by PID
// ascending, and keeps the first n. The input slice is not modified.
func SelectTopProcesses(procs []models.ProcessInfo, n int) []models.ProcessInfo {
	sorted := make([]models.ProcessInfo, len(procs))
	copy(sorted, procs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CPUPercent != sorted[j].CPUPercent {
			return sorted[i].CPUPercent > sorted[j].CPUPercent
		}
		return sorted[i].PID < sorted[j].PID
	})

	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
