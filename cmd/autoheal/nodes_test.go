package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/config"
	"github.com/autoops/go-autoheal/metrics"
)

func testConfig(t *testing.T, role string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Role: role,
		StoreConfig: config.StoreConfig{
			ProbeLogPath:    filepath.Join(dir, "data", "logs.json"),
			DecisionLogPath: filepath.Join(dir, "data", "agent_actions.json"),
		},
		MonitorConfig: config.MonitorConfig{MonitorInterval: time.Second, ProbeTimeout: time.Second},
		HealerConfig:  config.HealerConfig{HealerInterval: time.Second, HealerBackoff: time.Second, Window: 15},
		OracleConfig:  config.OracleConfig{Oracle: config.OracleRules, OracleTimeout: time.Second},
		Services:      config.DefaultServices(),
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

func TestBuildAppNodesPerRole(t *testing.T) {
	tests := []struct {
		role  string
		nodes []string
	}{
		{role: config.RoleAll, nodes: []string{"monitor", "healer"}},
		{role: config.RoleMonitor, nodes: []string{"monitor"}},
		{role: config.RoleHealer, nodes: []string{"healer"}},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			a, err := buildApp(context.Background(), testConfig(t, tt.role), quietLogger(), metrics.New(), &bytes.Buffer{})
			require.NoError(t, err)
			defer a.close()

			names := make([]string, 0, len(a.nodes))
			for _, n := range a.nodes {
				names = append(names, n.GetName())
			}
			assert.Equal(t, tt.nodes, names)
		})
	}
}

func TestBuildAppFailsOnUnwritableLog(t *testing.T) {
	cfg := testConfig(t, config.RoleAll)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.DecisionLogPath = filepath.Join(blocker, "agent_actions.json")

	_, err := buildApp(context.Background(), cfg, quietLogger(), metrics.New(), &bytes.Buffer{})
	assert.Error(t, err)
}
