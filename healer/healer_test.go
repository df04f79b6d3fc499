package healer_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/healer"
	"github.com/autoops/go-autoheal/logstore"
	"github.com/autoops/go-autoheal/metrics"
	"github.com/autoops/go-autoheal/oracle"
	"github.com/autoops/go-autoheal/probe"
)

type restartRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *restartRecorder) Restart(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *restartRecorder) restarted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type deciderFunc func(ctx context.Context, logText string) oracle.Decision

func (f deciderFunc) Decide(ctx context.Context, logText string) oracle.Decision {
	return f(ctx, logText)
}

type logs struct {
	probes    *logstore.Log
	decisions *logstore.Log
}

func openLogs(t *testing.T) logs {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	probes, err := logstore.Open(filepath.Join(dir, "logs.json"))
	require.NoError(t, err)
	decisions, err := logstore.Open(filepath.Join(dir, "agent_actions.json"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = probes.Close()
		_ = decisions.Close()
	})
	return logs{probes: probes, decisions: decisions}
}

func (l logs) decided(t *testing.T) []oracle.Decision {
	t.Helper()
	ds, err := logstore.TailInto[oracle.Decision](l.decisions.Path(), 100)
	require.NoError(t, err)
	return ds
}

func TestEmptyProbeLogNeverReachesTheOracle(t *testing.T) {
	dir := t.TempDir()
	decisions, err := logstore.Open(filepath.Join(dir, "agent_actions.json"))
	require.NoError(t, err)
	defer decisions.Close()

	var calls int32
	restarter := &restartRecorder{}
	var out bytes.Buffer
	h := &healer.Healer{
		ProbeLog:    logstore.NewReader(filepath.Join(dir, "logs.json")),
		DecisionLog: decisions,
		Decider: deciderFunc(func(context.Context, string) oracle.Decision {
			atomic.AddInt32(&calls, 1)
			return oracle.Decision{Action: oracle.ActionNone}
		}),
		Restarter: restarter,
		Out:       &out,
	}

	for i := 0; i < 5; i++ {
		waited, err := h.RunCycle(context.Background())
		require.NoError(t, err)
		assert.True(t, waited)
	}

	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Empty(t, restarter.restarted())
	got, err := logstore.Tail(decisions.Path(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, out.String(), "Waiting for data")
}

func TestRestartDecisionIsLoggedAndExecuted(t *testing.T) {
	l := openLogs(t)
	for i := 0; i < 15; i++ {
		require.NoError(t, l.probes.Append(probe.Record{
			Service:      "payment",
			URL:          "http://localhost:5001/health",
			Timestamp:    time.Now(),
			Status:       probe.CrashedStatus,
			ResponseBody: []byte(`"connection refused"`),
		}))
	}

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	restarter := &restartRecorder{}
	var out bytes.Buffer
	h := &healer.Healer{
		ProbeLog:    l.probes,
		DecisionLog: l.decisions,
		Decider:     oracle.NewAdapter(oracle.RuleOracle{}),
		Restarter:   restarter,
		Out:         &out,
		Metrics:     metrics.New(),
		Now:         func() time.Time { return stamp },
	}

	waited, err := h.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, waited)

	assert.Equal(t, []string{"payment"}, restarter.restarted())
	ds := l.decided(t)
	require.Len(t, ds, 1)
	assert.Equal(t, oracle.ActionRestart, ds[0].Action)
	assert.Equal(t, "payment", ds[0].ServiceName)
	assert.True(t, stamp.Equal(ds[0].Timestamp))
	assert.Equal(t, "AI Decision: "+ds[0].Reason+"\n", out.String())
}

func TestDecisionsWithoutRestart(t *testing.T) {
	tests := []struct {
		name     string
		decision oracle.Decision
	}{
		{name: "none", decision: oracle.Decision{Action: oracle.ActionNone, Reason: "All services are operating normally."}},
		{name: "oracle failure", decision: oracle.Failed(errors.New("throttled"))},
		{name: "restart without service", decision: oracle.Decision{Action: oracle.ActionRestart, Reason: "?"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := openLogs(t)
			require.NoError(t, l.probes.Append(probe.Record{Service: "payment", Status: probe.StatusCode(200)}))

			restarter := &restartRecorder{}
			h := &healer.Healer{
				ProbeLog:    l.probes,
				DecisionLog: l.decisions,
				Decider: deciderFunc(func(context.Context, string) oracle.Decision {
					return tt.decision
				}),
				Restarter: restarter,
				Out:       &bytes.Buffer{},
			}

			_, err := h.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Empty(t, restarter.restarted())
			ds := l.decided(t)
			require.Len(t, ds, 1)
			assert.Equal(t, tt.decision.Reason, ds[0].Reason)
		})
	}
}

func TestOracleSeesTheLastWindowOfRecords(t *testing.T) {
	l := openLogs(t)
	for i := 0; i < 20; i++ {
		require.NoError(t, l.probes.Append(probe.Record{Service: "inventory", Status: probe.StatusCode(200 + i)}))
	}

	var seen string
	h := &healer.Healer{
		ProbeLog:    l.probes,
		DecisionLog: l.decisions,
		Decider: deciderFunc(func(_ context.Context, logText string) oracle.Decision {
			seen = logText
			return oracle.Decision{Action: oracle.ActionNone, Reason: "ok"}
		}),
		Restarter: &restartRecorder{},
		Window:    3,
		Out:       &bytes.Buffer{},
	}
	_, err := h.RunCycle(context.Background())
	require.NoError(t, err)

	want, err := l.probes.TailText(3)
	require.NoError(t, err)
	assert.Equal(t, want, seen)
	assert.Contains(t, seen, `"status_code":219`)
	assert.NotContains(t, seen, `"status_code":216`)
}

func TestRunSurvivesPanickingCycles(t *testing.T) {
	l := openLogs(t)
	require.NoError(t, l.probes.Append(probe.Record{Service: "payment", Status: probe.CrashedStatus}))

	var calls int32
	restarter := &restartRecorder{}
	h := &healer.Healer{
		ProbeLog:    l.probes,
		DecisionLog: l.decisions,
		Decider: deciderFunc(func(context.Context, string) oracle.Decision {
			if atomic.AddInt32(&calls, 1) == 1 {
				panic("decider exploded")
			}
			return oracle.Decision{Action: oracle.ActionRestart, ServiceName: "payment", Reason: "crashed"}
		}),
		Restarter: restarter,
		Interval:  5 * time.Millisecond,
		Out:       &bytes.Buffer{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(restarter.restarted()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("healer did not stop after cancellation")
	}
}

type failingAppender struct{}

func (failingAppender) Append(interface{}) error { return errors.New("disk full") }

func TestRestartIsSkippedWhenDecisionCannotBeRecorded(t *testing.T) {
	l := openLogs(t)
	require.NoError(t, l.probes.Append(probe.Record{Service: "payment", Status: probe.CrashedStatus}))

	restarter := &restartRecorder{}
	h := &healer.Healer{
		ProbeLog:    l.probes,
		DecisionLog: failingAppender{},
		Decider: deciderFunc(func(context.Context, string) oracle.Decision {
			return oracle.Decision{Action: oracle.ActionRestart, ServiceName: "payment", Reason: "crashed"}
		}),
		Restarter: restarter,
		Out:       &bytes.Buffer{},
	}

	_, err := h.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Empty(t, restarter.restarted())
}
