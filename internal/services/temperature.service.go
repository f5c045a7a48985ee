package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"pideck/internal/cmdexec"
)

var (
	ErrTemperatureUnavailable = errors.New("temperature unavailable")
	errTemperatureRange       = errors.New("reading out of range")
	errNoTemperature          = errors.New("no temperature in output")
)

var (
	vcgencmdPattern = regexp.MustCompile(`temp=([0-9]+(?:\.[0-9]+)?)`)
	sensorsPattern  = regexp.MustCompile(`^(?:Core 0|Package id 0|Tctl|cpu_thermal|temp1):.*?\+([0-9]+(?:\.[0-9]+)?)°C`)
)

// TemperatureReader tries, in order, the thermal zone file, the VideoCore
// firmware tool and lm-sensors. The first method that yields a value wins.
type TemperatureReader struct {
	thermalPath string
	runner      cmdexec.Runner
	timeout     time.Duration
}

func NewTemperatureReader(thermalPath string, runner cmdexec.Runner, timeout time.Duration) *TemperatureReader {
	return &TemperatureReader{thermalPath: thermalPath, runner: runner, timeout: timeout}
}

type temperatureMethod struct {
	name string
	read func(ctx context.Context) (float64, error)
}

// Read returns the CPU temperature in °C rounded to one decimal. When every
// method fails the error wraps ErrTemperatureUnavailable and joins the
// individual reasons.
func (t *TemperatureReader) Read(ctx context.Context) (float64, error) {
	methods := []temperatureMethod{
		{name: "thermal_zone", read: t.fromThermalZone},
		{name: "vcgencmd", read: t.fromVcgencmd},
		{name: "sensors", read: t.fromSensors},
	}

	var errs []error
	for _, m := range methods {
		v, err := m.read(ctx)
		if err == nil {
			return math.Round(v*10) / 10, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if ctx.Err() != nil {
			break
		}
	}

	return 0, fmt.Errorf("%w: %w", ErrTemperatureUnavailable, errors.Join(errs...))
}

func (t *TemperatureReader) fromThermalZone(context.Context) (float64, error) {
	if t.thermalPath == "" {
		return 0, os.ErrNotExist
	}
	data, err := os.ReadFile(t.thermalPath)
	if err != nil {
		return 0, err
	}
	return parseThermalZone(string(data))
}

func (t *TemperatureReader) fromVcgencmd(ctx context.Context) (float64, error) {
	res, err := t.runner.Run(ctx, t.timeout, "vcgencmd", "measure_temp")
	if err != nil {
		return 0, err
	}
	return parseVcgencmd(string(res.Stdout))
}

func (t *TemperatureReader) fromSensors(ctx context.Context) (float64, error) {
	res, err := t.runner.Run(ctx, t.timeout, "sensors")
	if err != nil {
		return 0, err
	}
	return parseSensors(string(res.Stdout))
}

// parseThermalZone reads millidegrees and accepts only plausible SoC values.
func parseThermalZone(raw string) (float64, error) {
	milli, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	c := float64(milli) / 1000
	if c <= 0 || c >= 100 {
		return 0, fmt.Errorf("%w: %.1f°C", errTemperatureRange, c)
	}
	return c, nil
}

func parseVcgencmd(out string) (float64, error) {
	m := vcgencmdPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, errNoTemperature
	}
	return positiveFloat(m[1])
}

func parseSensors(out string) (float64, error) {
	for _, line := range strings.Split(out, "\n") {
		if m := sensorsPattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return positiveFloat(m[1])
		}
	}
	return 0, errNoTemperature
}

func positiveFloat(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %.1f°C", errTemperatureRange, v)
	}
	return v, nil
}
