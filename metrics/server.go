package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/s"
)

// HealthReporter reports the health of the supervision tree running the loops
type HealthReporter interface {
	GetHealthReport() s.HealthReport
}

type healthResponse struct {
	Healthy         bool     `json:"healthy"`
	Failed          []string `json:"failed,omitempty"`
	DelayedRestarts []string `json:"delayed_restarts,omitempty"`
}

// NewRouter serves GET /metrics and GET /healthz
func NewRouter(m *Metrics, health HealthReporter) *mux.Router {
	r := mux.NewRouter()
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Healthy: true}
		if health != nil {
			report := health.GetHealthReport()
			resp = healthResponse{
				Healthy:         report.IsHealthyReport(),
				Failed:          report.GetFailedProcesses(),
				DelayedRestarts: report.GetDelayedRestartProcesses(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}).Methods(http.MethodGet)
	return r
}

// NewServerNodes returns the workers that run the ops HTTP server: one that
// binds and serves, and one that shuts the server down when the supervisor
// stops. The server is not restarted once it fails, so a taken address only
// disables the ops endpoints and never costs the loops their restart budget.
func NewServerNodes(log *logrus.Entry, addr string, handler http.Handler) []c.ChildSpec {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log = log.WithField("addr", addr)
	return []c.ChildSpec{
		c.New("listen-and-serve", func(_ context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				log.WithError(err).Error("ops server disabled")
				return fmt.Errorf("ops server: %w", err)
			}
			log.Info("ops server starting")
			err = server.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			log.WithError(err).Error("ops server stopped")
			return err
		}, c.WithRestart(c.Temporary)),
		c.New("stop-handler", func(ctx context.Context) error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("ops server shutdown failed")
				return err
			}
			return nil
		}),
	}
}
