package s

import (
	"sort"
	"sync"
	"time"
)

// HealthReport contains a report for the HealthcheckMonitor
type HealthReport struct {
	failedProcesses         []string
	delayedRestartProcesses []string
}

// HealthyReport represents a healthy report
var HealthyReport = HealthReport{}

// GetFailedProcesses returns the runtime names of the failed processes
func (hr HealthReport) GetFailedProcesses() []string {
	return hr.failedProcesses
}

// GetDelayedRestartProcesses returns the runtime names of the processes that
// are taking too long to restart
func (hr HealthReport) GetDelayedRestartProcesses() []string {
	return hr.delayedRestartProcesses
}

// IsHealthyReport indicates if this is a healthy report
func (hr HealthReport) IsHealthyReport() bool {
	return len(hr.failedProcesses) == 0 && len(hr.delayedRestartProcesses) == 0
}

// HealthcheckMonitor listens to the events of a supervision tree and assesses
// if it is healthy.
type HealthcheckMonitor struct {
	mu                        sync.Mutex
	maxAllowedRestartDuration time.Duration
	maxAllowedFailures        uint32
	failedEvs                 map[string]Event
}

// NewHealthcheckMonitor offers a way to monitor a supervision tree health from
// events emitted by it.
//
// maxAllowedFailures is the number of simultaneously failed processes beyond
// which the tree is unhealthy; maxAllowedRestartDuration is how long a failed
// process may take to start again before the tree is unhealthy.
func NewHealthcheckMonitor(
	maxAllowedFailures uint32,
	maxAllowedRestartDuration time.Duration,
) *HealthcheckMonitor {
	return &HealthcheckMonitor{
		maxAllowedRestartDuration: maxAllowedRestartDuration,
		maxAllowedFailures:        maxAllowedFailures,
		failedEvs:                 make(map[string]Event),
	}
}

// HandleEvent is an EventNotifier
func (h *HealthcheckMonitor) HandleEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.GetTag() {
	case ProcessFailed, ProcessStartFailed:
		h.failedEvs[ev.GetProcessRuntimeName()] = ev
	case ProcessStarted, ProcessTerminated:
		delete(h.failedEvs, ev.GetProcessRuntimeName())
	}
}

// GetHealthReport returns the processes that make the tree unhealthy
func (h *HealthcheckMonitor) GetHealthReport() HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.failedEvs) == 0 {
		return HealthyReport
	}

	var hr HealthReport

	if uint32(len(h.failedEvs)) > h.maxAllowedFailures {
		for processName := range h.failedEvs {
			hr.failedProcesses = append(hr.failedProcesses, processName)
		}
	}

	currentTime := time.Now()
	for processName, ev := range h.failedEvs {
		if currentTime.Sub(ev.GetCreated()) > h.maxAllowedRestartDuration {
			hr.delayedRestartProcesses = append(hr.delayedRestartProcesses, processName)
		}
	}

	sort.Strings(hr.failedProcesses)
	sort.Strings(hr.delayedRestartProcesses)
	return hr
}

// IsHealthy return true when no process is failing beyond the thresholds
func (h *HealthcheckMonitor) IsHealthy() bool {
	return h.GetHealthReport().IsHealthyReport()
}
