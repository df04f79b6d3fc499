package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/s"
	"github.com/autoops/go-autoheal/metrics"
	"github.com/autoops/go-autoheal/probe"
)

func TestObservations(t *testing.T) {
	m := metrics.New()
	latency := int64(12)
	m.ObserveProbe(probe.Record{Service: "payment", Status: probe.StatusCode(200), LatencyMs: &latency})
	m.ObserveProbe(probe.Record{Service: "payment", Status: probe.CrashedStatus})
	m.ObserveProbe(probe.Record{Service: "payment", Status: probe.CrashedStatus})
	m.ObserveDecision("restart")
	m.ObserveRestart("payment", "started")

	for name, want := range map[string]int{
		"autoheal_probe_total":           2,
		"autoheal_probe_latency_seconds": 1,
		"autoheal_decisions_total":       1,
		"autoheal_restarts_total":        1,
	} {
		got, err := testutil.GatherAndCount(m.Registry, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestNilMetricsIsANoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveProbe(probe.Record{Service: "payment", Status: probe.CrashedStatus})
		m.ObserveDecision("none")
		m.ObserveRestart("payment", "failed")
	})
}

type healthResponse struct {
	Healthy bool     `json:"healthy"`
	Failed  []string `json:"failed"`
}

func get(t *testing.T, handler http.Handler, path string) (int, []byte) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, body
}

func TestRouter(t *testing.T) {
	m := metrics.New()
	m.ObserveDecision("none")
	health := s.NewHealthcheckMonitor(0, time.Minute)
	router := metrics.NewRouter(m, health)

	code, body := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `autoheal_decisions_total{action="none"} 1`)

	code, body = get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Healthy)

	code, _ = get(t, router, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthzReportsFailingWorker(t *testing.T) {
	m := metrics.New()
	health := s.NewHealthcheckMonitor(0, time.Minute)
	failing := c.New("healer", func(ctx context.Context) error {
		return errors.New("cycle exploded")
	})
	sup, err := s.NewSupervisorSpec("autoheal",
		s.WithNodes(failing),
		s.WithNotifier(health.HandleEvent),
		s.WithNotifier(m.HandleEvent),
		s.WithRestartTolerance(10, time.Minute),
		// keeps the worker in the failed state for the whole test
		s.WithRestartBackoff(time.Hour, time.Hour),
	).Start(context.Background())
	require.NoError(t, err)
	defer sup.Terminate()

	require.Eventually(t, func() bool { return !health.IsHealthy() }, time.Second, 5*time.Millisecond)

	code, body := get(t, metrics.NewRouter(m, health), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Healthy)
	assert.Equal(t, []string{"autoheal/healer"}, resp.Failed)
}

func TestServerNodesServeAndShutDown(t *testing.T) {
	log := logrus.New()
	log.Out = io.Discard
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sup, err := s.NewSupervisorSpec("ops",
		s.WithNodes(metrics.NewServerNodes(logrus.NewEntry(log), addr, handler)...),
	).Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sup.Terminate())
	_, err = http.Get("http://" + addr + "/")
	assert.Error(t, err)
}

func TestTakenOpsAddressLeavesLoopsRunning(t *testing.T) {
	log := logrus.New()
	log.Out = io.Discard

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	health := s.NewHealthcheckMonitor(0, time.Minute)
	loopStopped := make(chan struct{})
	loop := c.New("monitor", func(ctx context.Context) error {
		<-ctx.Done()
		close(loopStopped)
		return nil
	})

	nodes := append([]c.ChildSpec{loop},
		metrics.NewServerNodes(logrus.NewEntry(log), taken.Addr().String(), http.NotFoundHandler())...)
	sup, err := s.NewSupervisorSpec("autoheal",
		s.WithNodes(nodes...),
		s.WithNotifier(health.HandleEvent),
		s.WithRestartTolerance(1, time.Minute),
	).Start(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(health.GetHealthReport().GetFailedProcesses()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"autoheal/listen-and-serve"}, health.GetHealthReport().GetFailedProcesses())

	waitErr := make(chan error, 1)
	go func() { waitErr <- sup.Wait() }()
	select {
	case err := <-waitErr:
		t.Fatalf("supervisor gave up: %v", err)
	case <-loopStopped:
		t.Fatal("monitor loop was stopped")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, sup.Terminate())
	<-loopStopped
}
