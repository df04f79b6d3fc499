package n

import (
	"strings"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/s"
)

// EventCriteria is an utility that allows us to specify a matching criteria to
// a specific supervision event
type EventCriteria func(s.Event) bool

// EAnd joins a slice of EventCriteria with an and statement
func EAnd(crits ...EventCriteria) EventCriteria {
	return func(ev s.Event) bool {
		for _, crit := range crits {
			if !crit(ev) {
				return false
			}
		}
		return true
	}
}

// EHasName returns true if the runtime name of the node that emitted the event
// matches the given name
func EHasName(names ...string) EventCriteria {
	name := strings.Join(names, c.NodeSepToken)
	return func(ev s.Event) bool {
		return ev.GetProcessRuntimeName() == name
	}
}

// EIsWorker matches events emitted for workers
var EIsWorker EventCriteria = func(ev s.Event) bool {
	return ev.GetNodeTag() == s.WorkerNode
}

// EIsFailure returns true if the event represent a node failure
var EIsFailure EventCriteria = func(ev s.Event) bool {
	return ev.GetTag() == s.ProcessFailed || ev.GetTag() == s.ProcessStartFailed
}

// EIsRestartToleranceReached matches a supervisor giving up on its workers
var EIsRestartToleranceReached EventCriteria = func(ev s.Event) bool {
	return ev.GetTag() == s.ProcessFailed &&
		ev.GetNodeTag() == s.SupervisorNode &&
		s.IsRestartToleranceReached(ev.Err())
}

// SelectEventByCriteria forwards Event records that match positively the given
// criteria to the given EventNotifier
func SelectEventByCriteria(crit EventCriteria, notifier s.EventNotifier) s.EventNotifier {
	return func(ev s.Event) {
		if crit(ev) {
			notifier(ev)
		}
	}
}
