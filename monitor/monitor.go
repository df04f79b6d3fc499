// Package monitor implements the polling loop that probes every configured
// service and appends one record per probe to the probe log.
package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/metrics"
	"github.com/autoops/go-autoheal/probe"
)

// DefaultInterval is the sleep between two monitor cycles
const DefaultInterval = 3 * time.Second

// Prober checks the health of one target
type Prober interface {
	Probe(ctx context.Context, target probe.Target) probe.Record
}

// Appender persists one record as a log line
type Appender interface {
	Append(v interface{}) error
}

// Monitor probes Targets in order once per cycle. Fields are read only; a
// Monitor must not be modified once Run has been called.
type Monitor struct {
	Targets  []probe.Target
	Prober   Prober
	Log      Appender
	Interval time.Duration
	// Parallel probes all targets concurrently; records are still appended in
	// configured order.
	Parallel bool
	// Out receives the operator status lines, os.Stdout when nil
	Out     io.Writer
	Logger  *logrus.Entry
	Metrics *metrics.Metrics
}

func (m *Monitor) out() io.Writer {
	if m.Out == nil {
		return os.Stdout
	}
	return m.Out
}

func (m *Monitor) logger() *logrus.Entry {
	if m.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return m.Logger
}

// RunCycle probes every target and appends the resulting records. Append
// failures are logged and do not stop the cycle; the returned slice holds every
// record produced, persisted or not.
func (m *Monitor) RunCycle(ctx context.Context) []probe.Record {
	records := m.probeAll(ctx)
	for _, rec := range records {
		m.Metrics.ObserveProbe(rec)
		if err := m.Log.Append(rec); err != nil {
			m.logger().WithError(err).WithField("service", rec.Service).Error("could not append probe record")
			fmt.Fprintf(m.out(), "Not logged: %s status is %s\n", rec.Service, rec.Status)
			continue
		}
		fmt.Fprintf(m.out(), "Logged: %s status is %s\n", rec.Service, rec.Status)
	}
	return records
}

func (m *Monitor) probeAll(ctx context.Context) []probe.Record {
	records := make([]probe.Record, len(m.Targets))
	if !m.Parallel {
		for i, target := range m.Targets {
			records[i] = m.Prober.Probe(ctx, target)
		}
		return records
	}

	var wg sync.WaitGroup
	for i, target := range m.Targets {
		wg.Add(1)
		go func(i int, target probe.Target) {
			defer wg.Done()
			records[i] = m.Prober.Probe(ctx, target)
		}(i, target)
	}
	wg.Wait()
	return records
}

// Run executes cycles separated by Interval until ctx is done. It only returns
// when ctx is cancelled, and then with a nil error.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.logger().WithFields(logrus.Fields{
		"targets":  len(m.Targets),
		"interval": interval.String(),
		"parallel": m.Parallel,
	}).Info("monitor started")

	for {
		// a cancelled context would turn every probe into a CRASHED record
		if ctx.Err() != nil {
			return nil
		}
		m.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
