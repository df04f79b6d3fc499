// Package healer implements the observe, decide and act loop: it reads the
// latest probe records, asks the oracle for a decision, records the decision
// and restarts the named service when told to.
package healer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/metrics"
	"github.com/autoops/go-autoheal/oracle"
)

const (
	// DefaultWindow is how many probe records are analyzed per cycle
	DefaultWindow = 15
	// DefaultInterval is the sleep after a cycle that reached the oracle
	DefaultInterval = 15 * time.Second
	// DefaultBackoff is the sleep after a cycle that found no data
	DefaultBackoff = 10 * time.Second
)

// ProbeSource returns the text of the latest probe records
type ProbeSource interface {
	TailText(n int) (string, error)
}

// Decider chooses a corrective action for a block of probe records
type Decider interface {
	Decide(ctx context.Context, logText string) oracle.Decision
}

// Restarter restarts a service by name
type Restarter interface {
	Restart(name string)
}

// Appender persists one decision as a log line
type Appender interface {
	Append(v interface{}) error
}

// Healer runs the healing cycles. Fields are read only once Run is called.
type Healer struct {
	ProbeLog    ProbeSource
	DecisionLog Appender
	Decider     Decider
	Restarter   Restarter

	Window   int
	Interval time.Duration
	Backoff  time.Duration

	// Out receives the operator status lines, os.Stdout when nil
	Out     io.Writer
	Logger  *logrus.Entry
	Metrics *metrics.Metrics
	// Now stamps decisions, time.Now when nil
	Now func() time.Time
}

func (h *Healer) out() io.Writer {
	if h.Out == nil {
		return os.Stdout
	}
	return h.Out
}

func (h *Healer) logger() *logrus.Entry {
	if h.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return h.Logger
}

func (h *Healer) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// RunCycle performs one healing cycle. It returns waited=true when the probe
// log had no records, in which case the oracle was not called and no decision
// was made.
func (h *Healer) RunCycle(ctx context.Context) (bool, error) {
	window := h.Window
	if window <= 0 {
		window = DefaultWindow
	}
	log := h.logger().WithField("cycle_id", uuid.NewString())

	logText, err := h.ProbeLog.TailText(window)
	if err != nil {
		return false, fmt.Errorf("Healer.RunCycle reading probe log: %w", err)
	}
	if strings.TrimSpace(logText) == "" {
		fmt.Fprintln(h.out(), "Log file is empty. Waiting for data...")
		log.Debug("no probe records yet")
		return true, nil
	}

	decision := h.Decider.Decide(ctx, logText)
	decision.Timestamp = h.now()
	h.Metrics.ObserveDecision(string(decision.Action))

	fmt.Fprintf(h.out(), "AI Decision: %s\n", decision.Reason)
	log = log.WithFields(logrus.Fields{
		"action":       decision.Action,
		"service_name": decision.ServiceName,
		"reason":       decision.Reason,
	})

	if err := h.DecisionLog.Append(decision); err != nil {
		return false, fmt.Errorf("Healer.RunCycle appending decision: %w", err)
	}

	switch {
	case decision.IsFailed():
		log.Warn("oracle unavailable, no corrective action")
		return false, nil
	case !decision.IsRestart():
		log.Info("no corrective action")
		return false, nil
	}
	log.Info("restarting service")
	h.Restarter.Restart(decision.ServiceName)
	return false, nil
}

// safeCycle runs one cycle and converts a panic into an error
func (h *Healer) safeCycle(ctx context.Context) (waited bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in healer cycle: %v", r)
		}
	}()
	return h.RunCycle(ctx)
}

// Run executes healing cycles until ctx is done. An error or panic inside a
// cycle is logged and the loop goes on after Interval.
func (h *Healer) Run(ctx context.Context) error {
	interval := orDefault(h.Interval, DefaultInterval)
	backoff := orDefault(h.Backoff, DefaultBackoff)
	h.logger().WithFields(logrus.Fields{
		"interval": interval.String(),
		"backoff":  backoff.String(),
	}).Info("healer started")

	for {
		if ctx.Err() != nil {
			return nil
		}
		waited, err := h.safeCycle(ctx)
		if err != nil {
			h.logger().WithError(err).Error("healer cycle failed")
		}

		sleep := interval
		if waited {
			sleep = backoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}
