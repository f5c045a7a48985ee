package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pideck/internal/logging"
)

const (
	// SectorSize is the unit of the kernel's sectors-read/written counters,
	// independent of the device's physical sector size.
	SectorSize = 512

	// DefaultMinSampleGap is the shortest elapsed time used as a divisor.
	DefaultMinSampleGap = 50 * time.Millisecond

	// DefaultBootstrapDelay separates the two reads taken on cold start.
	DefaultBootstrapDelay = 500 * time.Millisecond

	CounterDisk    = "disk"
	CounterNetwork = "network"
)

// Counters is one reading of a monotonically increasing counter set. Read
// and Write are sectors for disks and bytes (rx/tx) for network interfaces.
// Busy is the disk busy time in milliseconds and stays zero for networks.
type Counters struct {
	Read  uint64
	Write uint64
	Busy  uint64
}

// Rate is the per-second change of each Counters component.
type Rate struct {
	Read  float64
	Write float64
	Busy  float64
}

// CounterReader returns the current value of a counter set.
type CounterReader func(ctx context.Context) (Counters, error)

type counterSample struct {
	counters Counters
	takenAt  time.Time
}

// CounterSampler turns successive counter readings into rates. It keeps
// exactly one previous sample per key.
type CounterSampler struct {
	mu     sync.Mutex
	prev   map[string]counterSample
	last   map[string]Rate
	clock  Clock
	logger *slog.Logger

	minGap         time.Duration
	bootstrapDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

type SamplerOption func(*CounterSampler)

// WithBootstrapDelay sets the cold-start double-read delay. Zero disables
// the second read, so the first call for a key returns a zero rate.
func WithBootstrapDelay(d time.Duration) SamplerOption {
	return func(s *CounterSampler) { s.bootstrapDelay = d }
}

func WithMinSampleGap(d time.Duration) SamplerOption {
	return func(s *CounterSampler) { s.minGap = d }
}

func WithSamplerClock(c Clock) SamplerOption {
	return func(s *CounterSampler) { s.clock = orSystemClock(c) }
}

// WithSleep replaces the bootstrap wait, mainly so tests can advance a
// manual clock instead of sleeping.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) SamplerOption {
	return func(s *CounterSampler) { s.sleep = fn }
}

func NewCounterSampler(logger *slog.Logger, opts ...SamplerOption) *CounterSampler {
	s := &CounterSampler{
		prev:           make(map[string]counterSample),
		last:           make(map[string]Rate),
		clock:          SystemClock,
		logger:         logging.OrDiscard(logger),
		minGap:         DefaultMinSampleGap,
		bootstrapDelay: DefaultBootstrapDelay,
		sleep:          sleepWithContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample reads the counters behind key and returns their rate since the
// previous call. A failed read returns a zero rate and leaves the stored
// sample untouched.
func (s *CounterSampler) Sample(ctx context.Context, key string, read CounterReader) (Rate, error) {
	cur, err := read(ctx)
	if err != nil {
		return Rate{}, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	prev, ok := s.prev[key]
	if !ok {
		s.prev[key] = counterSample{counters: cur, takenAt: now}
		s.mu.Unlock()

		if s.bootstrapDelay <= 0 {
			return Rate{}, nil
		}
		if err := s.sleep(ctx, s.bootstrapDelay); err != nil {
			return Rate{}, nil
		}
		if cur, err = read(ctx); err != nil {
			return Rate{}, err
		}
		now = s.clock.Now()

		s.mu.Lock()
		prev = s.prev[key]
	}
	defer s.mu.Unlock()

	elapsed := now.Sub(prev.takenAt)
	if elapsed < s.minGap || elapsed <= 0 {
		s.logger.Debug("counter sample too close to previous, keeping last rate", "counter", key, "elapsed", elapsed)
		return s.last[key], nil
	}

	seconds := elapsed.Seconds()
	rate := Rate{
		Read:  perSecond(cur.Read, prev.counters.Read, seconds),
		Write: perSecond(cur.Write, prev.counters.Write, seconds),
		Busy:  perSecond(cur.Busy, prev.counters.Busy, seconds),
	}
	s.prev[key] = counterSample{counters: cur, takenAt: now}
	s.last[key] = rate

	return rate, nil
}

// Reset forgets all stored samples.
func (s *CounterSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = make(map[string]counterSample)
	s.last = make(map[string]Rate)
}

// perSecond clamps a decreasing counter (device set change, wraparound) to
// zero rather than reporting a negative rate.
func perSecond(cur, prev uint64, seconds float64) float64 {
	if cur < prev || seconds <= 0 {
		return 0
	}
	return float64(cur-prev) / seconds
}

// SectorsToKB converts a sectors/sec rate into KB/s.
func SectorsToKB(sectorsPerSec float64) float64 {
	return sectorsPerSec * SectorSize / 1024
}

// BytesToKB converts a bytes/sec rate into KB/s.
func BytesToKB(bytesPerSec float64) float64 {
	return bytesPerSec / 1024
}

// BusyToPercent converts busy milliseconds per second into a utilization
// percentage in [0, 100].
func BusyToPercent(busyMsPerSec float64) float64 {
	return clampPercent(busyMsPerSec / 10)
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
