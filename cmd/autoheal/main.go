// Command autoheal runs the self-healing control loop: the monitor probes the
// configured services and the healer restarts the ones the oracle finds
// unhealthy. AUTOHEAL_ROLE selects whether this process runs both loops or
// only one of them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autoops/go-autoheal/config"
	"github.com/autoops/go-autoheal/internal/logging"
	"github.com/autoops/go-autoheal/internal/n"
	"github.com/autoops/go-autoheal/internal/s"
	"github.com/autoops/go-autoheal/metrics"
)

// envFile is read before the environment; a missing file is ignored
func envFile() string {
	if path := os.Getenv("AUTOHEAL_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

func run() error {
	cfg, err := config.Load(envFile())
	if err != nil {
		return err
	}

	// stdout carries the operator status lines
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	app, err := buildApp(ctx, cfg, log, m, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.close(); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}()

	supervisionLog := logging.Component(log, "supervision")
	evNotifier, stopNotifier, err := n.NewReliableNotifier(
		map[string]s.EventNotifier{
			"log":     logging.NewEventNotifier(supervisionLog),
			"metrics": n.SelectEventByCriteria(n.EIsWorker, m.HandleEvent),
			"give-up": n.SelectEventByCriteria(n.EIsRestartToleranceReached, func(ev s.Event) {
				supervisionLog.WithField("supervisor", ev.GetProcessRuntimeName()).
					Error("loops restarted too often, shutting down")
			}),
		},
		n.WithEntrypointBufferSize(64),
		n.WithNotifierTimeout(50*time.Millisecond),
		n.WithOnNotifierTimeout(func(name string) {
			supervisionLog.WithField("notifier", name).Warn("supervision event dropped")
		}),
		n.WithOnReliableNotifierFailure(func(err error) {
			supervisionLog.WithError(err).Error("supervision event delivery stopped")
		}),
	)
	if err != nil {
		return err
	}
	defer stopNotifier()

	// the health report is read by /healthz and must not lag behind
	health := s.NewHealthcheckMonitor(0, 30*time.Second)
	nodes := app.nodes
	if cfg.OpsAddr != "" {
		router := metrics.NewRouter(m, health)
		app.addOpsRoutes(router)
		nodes = append(nodes, metrics.NewServerNodes(logging.Component(log, "ops"), cfg.OpsAddr, router)...)
	}

	// autoheal (supervisor that restarts the loops)
	// |
	// ` monitor (probes services, appends to the probe log)
	// |
	// ` healer (reads the probe log, asks the oracle, restarts services)
	// |
	// ` listen-and-serve (ops server, not restarted when it fails)
	// |
	// ` stop-handler (calls http.Server.Shutdown on termination)
	spec := s.NewSupervisorSpec(
		"autoheal",
		s.WithNodes(nodes...),
		s.WithNotifier(evNotifier),
		s.WithNotifier(health.HandleEvent),
		s.WithRestartTolerance(5, time.Minute),
		s.WithRestartBackoff(time.Second, 30*time.Second),
	)

	log.WithField("role", cfg.Role).Info("starting autoheal")
	sup, err := spec.Start(ctx)
	if err != nil {
		return err
	}
	if err := sup.Wait(); err != nil {
		return err
	}
	log.Info("autoheal stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
