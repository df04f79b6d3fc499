package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/logging"
	"github.com/autoops/go-autoheal/internal/s"
)

func TestNewRejectsUnknownLevelAndFormat(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, "loud", logging.FormatJSON)
	assert.Error(t, err)
	_, err = logging.New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestEventNotifierLogsSupervisionEvents(t *testing.T) {
	var buf bytes.Buffer
	log, err := logging.New(&buf, "debug", logging.FormatJSON)
	require.NoError(t, err)

	failing := c.New("healer", func(ctx context.Context) error {
		return errors.New("cycle exploded")
	})
	spec := s.NewSupervisorSpec("root",
		s.WithNodes(failing),
		s.WithNotifier(logging.NewEventNotifier(logging.Component(log, "supervisor"))),
		s.WithRestartTolerance(0, time.Minute),
	)

	sup, err := spec.Start(context.Background())
	require.NoError(t, err)
	err = sup.Wait()
	require.Error(t, err)

	lines := decodeLines(t, &buf)
	require.NotEmpty(t, lines)

	var sawFailure, sawTolerance bool
	for _, line := range lines {
		assert.Equal(t, "supervisor", line["component"])
		if line["process_runtime_name"] == "root/healer" && line["level"] == "error" {
			sawFailure = true
			assert.Equal(t, "cycle exploded", line["error"])
		}
		if line["process_runtime_name"] == "root" && line["level"] == "error" {
			sawTolerance = true
			assert.Equal(t, "healer", line["supervisor.restart.node.name"])
		}
	}
	assert.True(t, sawFailure, buf.String())
	assert.True(t, sawTolerance, buf.String())
}
