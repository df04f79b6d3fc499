package s_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/s"
)

func TestHealthyHappyPath(t *testing.T) {
	hm := s.NewHealthcheckMonitor(0, time.Second)

	sup, err := s.NewSupervisorSpec(
		"root",
		s.WithNodes(waitDoneWorker("one"), waitDoneWorker("two")),
		s.WithNotifier(hm.HandleEvent),
	).Start(context.Background())
	require.NoError(t, err)
	assert.True(t, hm.IsHealthy())

	require.NoError(t, sup.Terminate())
	assert.True(t, hm.IsHealthy())
}

func TestUnhealthyWhileWorkerNeverRecovers(t *testing.T) {
	hm := s.NewHealthcheckMonitor(0, time.Millisecond)
	alwaysFail := c.New("flappy", func(ctx context.Context) error {
		return errors.New("boom")
	})

	sup, err := s.NewSupervisorSpec(
		"root",
		s.WithNodes(alwaysFail),
		s.WithRestartTolerance(1, time.Minute),
		s.WithNotifier(hm.HandleEvent),
	).Start(context.Background())
	require.NoError(t, err)
	require.Error(t, sup.Wait())

	require.Eventually(t, func() bool { return !hm.IsHealthy() }, time.Second, 5*time.Millisecond)
	report := hm.GetHealthReport()
	assert.Contains(t, report.GetFailedProcesses(), "root")
	assert.Contains(t, report.GetDelayedRestartProcesses(), "root")
}
