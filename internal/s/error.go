package s

import (
	"fmt"
	"sort"
)

// ErrKVs is an utility interface used to get key-values out of supervision
// errors for structured logging
type ErrKVs interface {
	KVs() map[string]interface{}
}

// SupervisorStartError is returned when a child fails to start; children
// started before it are stopped in reverse order.
type SupervisorStartError struct {
	supRuntimeName string
	nodeName       string
	nodeErr        error
	terminationErr *SupervisorTerminationError
}

func (err *SupervisorStartError) Error() string {
	return fmt.Sprintf("supervisor %s failed to start node %s: %v", err.supRuntimeName, err.nodeName, err.nodeErr)
}

// Unwrap returns the error reported by the child that failed to start
func (err *SupervisorStartError) Unwrap() error {
	return err.nodeErr
}

// KVs returns a metadata map for structured logging
func (err *SupervisorStartError) KVs() map[string]interface{} {
	acc := map[string]interface{}{
		"supervisor.name":            err.supRuntimeName,
		"supervisor.start.node.name": err.nodeName,
		"supervisor.start.node.err":  err.nodeErr,
	}
	if err.terminationErr != nil {
		for k, v := range err.terminationErr.KVs() {
			acc[k] = v
		}
	}
	return acc
}

// SupervisorTerminationError is returned when one or more children fail to
// terminate (errors, timeouts).
type SupervisorTerminationError struct {
	supRuntimeName string
	nodeErrMap     map[string]error
}

func (err *SupervisorTerminationError) Error() string {
	return "supervisor terminated with failures"
}

// KVs returns a metadata map for structured logging
func (err *SupervisorTerminationError) KVs() map[string]interface{} {
	nodeNames := make([]string, 0, len(err.nodeErrMap))
	for nodeName := range err.nodeErrMap {
		nodeNames = append(nodeNames, nodeName)
	}
	sort.Strings(nodeNames)

	acc := make(map[string]interface{})
	acc["supervisor.name"] = err.supRuntimeName
	for i, nodeName := range nodeNames {
		acc[fmt.Sprintf("supervisor.termination.node.%d.name", i)] = nodeName
		acc[fmt.Sprintf("supervisor.termination.node.%d.error", i)] = err.nodeErrMap[nodeName]
	}
	return acc
}

// RestartToleranceReached is returned when a supervisor restarted its
// children more often than its tolerance allows; the supervisor gives up and
// terminates.
type RestartToleranceReached struct {
	supRuntimeName  string
	tolerance       restartTolerance
	failedChildName string
	lastErr         error
	terminationErr  *SupervisorTerminationError
}

func (err *RestartToleranceReached) Error() string {
	return fmt.Sprintf(
		"supervisor %s crashed: node %s surpassed restart tolerance (%d restarts in %s)",
		err.supRuntimeName,
		err.failedChildName,
		err.tolerance.MaxRestartCount,
		err.tolerance.RestartWindow,
	)
}

// Unwrap returns the last error reported by the failing child
func (err *RestartToleranceReached) Unwrap() error {
	return err.lastErr
}

// KVs returns a metadata map for structured logging
func (err *RestartToleranceReached) KVs() map[string]interface{} {
	acc := map[string]interface{}{
		"supervisor.name":                     err.supRuntimeName,
		"supervisor.restart.node.name":        err.failedChildName,
		"supervisor.restart.tolerance.max":    err.tolerance.MaxRestartCount,
		"supervisor.restart.tolerance.window": err.tolerance.RestartWindow.String(),
	}
	if err.lastErr != nil {
		acc["supervisor.restart.node.error"] = err.lastErr
	}
	if err.terminationErr != nil {
		for k, v := range err.terminationErr.KVs() {
			acc[k] = v
		}
	}
	return acc
}
