package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/config"
	"github.com/autoops/go-autoheal/healer"
	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/logging"
	"github.com/autoops/go-autoheal/logstore"
	"github.com/autoops/go-autoheal/metrics"
	"github.com/autoops/go-autoheal/monitor"
	"github.com/autoops/go-autoheal/oracle"
	"github.com/autoops/go-autoheal/probe"
	"github.com/autoops/go-autoheal/supervisor"
)

// app holds the loop workers of a role and the resources they own
type app struct {
	nodes   []c.ChildSpec
	closers []func() error

	// set when the role runs the healer
	services        *supervisor.Supervisor
	decisionLogPath string
}

// close releases resources in reverse acquisition order
func (a *app) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newOracle(ctx context.Context, cfg config.Config) (oracle.Oracle, error) {
	if cfg.Oracle == config.OracleRules {
		return oracle.RuleOracle{}, nil
	}
	return oracle.NewBedrockOracle(ctx, cfg.BedrockRegion, cfg.BedrockModelID)
}

// buildApp creates the workers for the configured role. Status lines go to
// out.
func buildApp(
	ctx context.Context,
	cfg config.Config,
	log *logrus.Logger,
	m *metrics.Metrics,
	out io.Writer,
) (*app, error) {
	a := &app{}
	runMonitor := cfg.Role == config.RoleAll || cfg.Role == config.RoleMonitor
	runHealer := cfg.Role == config.RoleAll || cfg.Role == config.RoleHealer

	if runMonitor {
		probeLog, err := logstore.Open(cfg.ProbeLogPath)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("buildApp: %w", err)
		}
		a.closers = append(a.closers, probeLog.Close)

		mon := &monitor.Monitor{
			Targets:  cfg.Targets(),
			Prober:   probe.NewProber(cfg.ProbeTimeout),
			Log:      probeLog,
			Interval: cfg.MonitorInterval,
			Parallel: cfg.ParallelProbes,
			Out:      out,
			Logger:   logging.Component(log, "monitor"),
			Metrics:  m,
		}
		a.nodes = append(a.nodes, c.New("monitor", mon.Run))
	}

	if runHealer {
		decisionLog, err := logstore.Open(cfg.DecisionLogPath)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("buildApp: %w", err)
		}
		a.closers = append(a.closers, decisionLog.Close)

		o, err := newOracle(ctx, cfg)
		if err != nil {
			_ = a.close()
			return nil, fmt.Errorf("buildApp: %w", err)
		}

		services := supervisor.New(
			cfg.LaunchSpecs(),
			supervisor.WithLogger(logging.Component(log, "supervisor")),
			supervisor.WithMetrics(m),
			supervisor.WithGracePeriod(cfg.GracePeriod),
			supervisor.WithRestartTolerance(cfg.MaxRestarts, cfg.RestartWindow),
		)
		a.closers = append(a.closers, func() error {
			services.Stop()
			return nil
		})
		a.services = services
		a.decisionLogPath = cfg.DecisionLogPath

		h := &healer.Healer{
			ProbeLog:    logstore.NewReader(cfg.ProbeLogPath),
			DecisionLog: decisionLog,
			Decider: oracle.NewAdapter(o,
				oracle.WithTimeout(cfg.OracleTimeout),
				oracle.WithLogger(logging.Component(log, "oracle")),
			),
			Restarter: services,
			Window:    cfg.Window,
			Interval:  cfg.HealerInterval,
			Backoff:   cfg.HealerBackoff,
			Out:       out,
			Logger:    logging.Component(log, "healer"),
			Metrics:   m,
		}
		// a cycle may be waiting on a service to exit, SIGTERM then SIGKILL
		a.nodes = append(a.nodes, c.New("healer", h.Run,
			c.WithShutdown(c.Timeout(2*cfg.GracePeriod+5*time.Second)),
		))
	}
	return a, nil
}
