package services

import (
	"context"
	"log/slog"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultSubFetchTimeout bounds every individual metric read.
	DefaultSubFetchTimeout = 3 * time.Second

	unknown = "unknown"
)

type SnapshotBuilderConfig struct {
	SubFetchTimeout time.Duration
	TopProcesses    int
	HostInfoTTL     time.Duration
}

// SnapshotBuilder assembles one SystemSnapshot from independent reads. A
// failing read degrades its own field and never the whole snapshot.
type SnapshotBuilder struct {
	source    MetricSource
	sampler   *CounterSampler
	hostInfo  *HostInfoCache
	clock     Clock
	timeout   time.Duration
	topN      int
	telemetry *Telemetry
	logger    *slog.Logger
}

func NewSnapshotBuilder(cfg SnapshotBuilderConfig, source MetricSource, sampler *CounterSampler, clock Clock, telemetry *Telemetry, logger *slog.Logger) *SnapshotBuilder {
	if cfg.SubFetchTimeout <= 0 {
		cfg.SubFetchTimeout = DefaultSubFetchTimeout
	}
	if cfg.TopProcesses <= 0 {
		cfg.TopProcesses = DefaultTopProcesses
	}
	clock = orSystemClock(clock)
	return &SnapshotBuilder{
		source:    source,
		sampler:   sampler,
		hostInfo:  NewHostInfoCache(source, cfg.HostInfoTTL, clock),
		clock:     clock,
		timeout:   cfg.SubFetchTimeout,
		topN:      cfg.TopProcesses,
		telemetry: telemetry,
		logger:    logging.OrDiscard(logger),
	}
}

// Build runs every read concurrently and waits for all of them, each
// bounded by the sub-fetch timeout.
func (b *SnapshotBuilder) Build(ctx context.Context) models.SystemSnapshot {
	var (
		g         errgroup.Group
		info      models.HostInfo
		infoOK    bool
		cpuPct    float64
		memory    models.MemoryUsage
		temp      float64
		diskRate  Rate
		netRate   Rate
		processes []models.ProcessInfo
	)

	g.Go(func() error {
		info, infoOK = fetchWithTimeout(ctx, b, "host", b.hostInfo.Get)
		return nil
	})
	g.Go(func() error {
		cpuPct, _ = fetchWithTimeout(ctx, b, "cpu", b.source.CPUPercent)
		return nil
	})
	g.Go(func() error {
		memory, _ = fetchWithTimeout(ctx, b, "memory", b.source.Memory)
		return nil
	})
	g.Go(func() error {
		temp, _ = fetchWithTimeout(ctx, b, "temperature", b.source.Temperature)
		return nil
	})
	g.Go(func() error {
		diskRate, _ = fetchWithTimeout(ctx, b, "disk", func(ctx context.Context) (Rate, error) {
			return b.sampler.Sample(ctx, CounterDisk, b.source.DiskCounters)
		})
		return nil
	})
	g.Go(func() error {
		netRate, _ = fetchWithTimeout(ctx, b, "network", func(ctx context.Context) (Rate, error) {
			return b.sampler.Sample(ctx, CounterNetwork, b.source.NetworkCounters)
		})
		return nil
	})
	g.Go(func() error {
		all, ok := fetchWithTimeout(ctx, b, "processes", b.source.Processes)
		if ok {
			processes = SelectTopProcesses(all, b.topN)
		}
		return nil
	})
	_ = g.Wait()

	now := b.clock.Now()
	snap := models.SystemSnapshot{
		Hostname:     unknown,
		OS:           unknown,
		Kernel:       unknown,
		Arch:         unknown,
		Uptime:       unknown,
		IP:           unknown,
		CPUPercent:   cpuPct,
		Memory:       memory,
		TemperatureC: temp,
		DiskIO: models.DiskIO{
			ReadKBs:            round1(SectorsToKB(diskRate.Read)),
			WriteKBs:           round1(SectorsToKB(diskRate.Write)),
			UtilizationPercent: round1(BusyToPercent(diskRate.Busy)),
		},
		Network: models.NetworkRate{
			RxKBs: round1(BytesToKB(netRate.Read)),
			TxKBs: round1(BytesToKB(netRate.Write)),
		},
		Processes: processes,
		Timestamp: now,
	}
	if snap.Processes == nil {
		snap.Processes = []models.ProcessInfo{}
	}
	if infoOK {
		snap.Hostname = orUnknown(info.Hostname)
		snap.OS = orUnknown(info.OS)
		snap.Kernel = orUnknown(info.Kernel)
		snap.Arch = orUnknown(info.Arch)
		snap.IP = orUnknown(info.IP)
		if !info.BootTime.IsZero() {
			snap.Uptime = formatUptime(now.Sub(info.BootTime))
		}
	}

	return snap
}

type fetchResult[T any] struct {
	value T
	err   error
}

// fetchWithTimeout runs fn under the sub-fetch timeout. It returns as soon
// as the deadline passes even if fn ignores its context.
func fetchWithTimeout[T any](ctx context.Context, b *SnapshotBuilder, field string, fn func(context.Context) (T, error)) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ch := make(chan fetchResult[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- fetchResult[T]{value: v, err: err}
	}()

	var res fetchResult[T]
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		b.logger.Warn("metric unavailable, using default", "field", field, "error", res.err)
		b.telemetry.SubFetchFailed(field)
		var zero T
		return zero, false
	}
	return res.value, true
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
