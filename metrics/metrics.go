// Package metrics exposes the control loop counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/autoops/go-autoheal/internal/s"
	"github.com/autoops/go-autoheal/probe"
)

const namespace = "autoheal"

// Metrics holds the collectors of the monitor, the healer and the supervision
// tree, registered on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	probes       *prometheus.CounterVec
	probeLatency *prometheus.HistogramVec
	decisions    *prometheus.CounterVec
	restarts     *prometheus.CounterVec
	eventGauge   *prometheus.GaugeVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probe_total",
				Help:      "Health probes by service and outcome (HTTP status or CRASHED).",
			},
			[]string{"service", "outcome"},
		),
		probeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_latency_seconds",
				Help:      "Latency of completed health probes.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"service"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Healer decisions by action.",
			},
			[]string{"action"},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restarts_total",
				Help:      "Service restarts by service and result.",
			},
			[]string{"service", "result"},
		),
		eventGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "supervisor_event_gauge",
				Help:      "Running loop workers, driven by supervision events.",
			},
			[]string{"type", "process_name"},
		),
	}
	m.Registry.MustRegister(
		m.probes,
		m.probeLatency,
		m.decisions,
		m.restarts,
		m.eventGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProbe counts a probe record
func (m *Metrics) ObserveProbe(rec probe.Record) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(rec.Service, rec.Status.String()).Inc()
	if rec.LatencyMs != nil {
		latency := time.Duration(*rec.LatencyMs) * time.Millisecond
		m.probeLatency.WithLabelValues(rec.Service).Observe(latency.Seconds())
	}
}

// ObserveDecision counts a healer decision
func (m *Metrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
}

// ObserveRestart counts a restart attempt; result is one of "started",
// "failed", "skipped" or "unknown".
func (m *Metrics) ObserveRestart(service, result string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(service, result).Inc()
}

// HandleEvent is a supervision EventNotifier
func (m *Metrics) HandleEvent(ev s.Event) {
	if m == nil {
		return
	}
	if ev.GetTag() == s.ProcessStarted {
		m.eventGauge.WithLabelValues(ev.GetTag().String(), ev.GetProcessRuntimeName()).Inc()
	} else {
		m.eventGauge.WithLabelValues(ev.GetTag().String(), ev.GetProcessRuntimeName()).Dec()
	}
}
