package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pideck"

// Telemetry exposes the agent's own health as Prometheus metrics. A nil
// *Telemetry is valid and records nothing.
type Telemetry struct {
	registry          *prometheus.Registry
	polls             prometheus.Counter
	pollsSkipped      prometheus.Counter
	pollDuration      prometheus.Histogram
	subFetchFailures  *prometheus.CounterVec
	historyWriteFails prometheus.Counter
	followSessions    prometheus.Gauge
	temperature       prometheus.Gauge
}

func NewTelemetry() *Telemetry {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed snapshot polls.",
		}),
		pollsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Scheduler ticks skipped because a poll was still running.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time to build one snapshot.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		subFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subfetch_failures_total",
			Help:      "Snapshot fields that fell back to their default.",
		}, []string{"field"}),
		historyWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_failures_total",
			Help:      "History records dropped because the store rejected them.",
		}),
		followSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "follow_sessions",
			Help:      "Open log follow sessions.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "CPU temperature from the latest snapshot.",
		}),
	}
	t.registry.MustRegister(
		t.polls, t.pollsSkipped, t.pollDuration, t.subFetchFailures,
		t.historyWriteFails, t.followSessions, t.temperature,
		collectors.NewGoCollector(),
	)
	return t
}

// Handler serves the registry in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

func (t *Telemetry) PollFinished(d time.Duration, temperature float64) {
	if t == nil {
		return
	}
	t.polls.Inc()
	t.pollDuration.Observe(d.Seconds())
	t.temperature.Set(temperature)
}

func (t *Telemetry) PollSkipped() {
	if t == nil {
		return
	}
	t.pollsSkipped.Inc()
}

func (t *Telemetry) SubFetchFailed(field string) {
	if t == nil {
		return
	}
	t.subFetchFailures.WithLabelValues(field).Inc()
}

func (t *Telemetry) HistoryWriteFailed() {
	if t == nil {
		return
	}
	t.historyWriteFails.Inc()
}

func (t *Telemetry) FollowStarted() {
	if t == nil {
		return
	}
	t.followSessions.Inc()
}

func (t *Telemetry) FollowEnded() {
	if t == nil {
		return
	}
	t.followSessions.Dec()
}
