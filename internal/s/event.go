package s

import (
	"fmt"
	"strings"
	"time"
)

// EventTag specifies the type of Event that gets notified from the supervision
// system
type EventTag uint32

const (
	// ignore zero value of iota
	_ EventTag = iota
	// ProcessStarted is an Event that indicates a process started
	ProcessStarted
	// ProcessTerminated is an Event that indicates a process was stopped by a parent
	// supervisor
	ProcessTerminated
	// ProcessStartFailed is an Event that indicates a process failed to start
	ProcessStartFailed
	// ProcessFailed is an Event that indicates a process reported an error
	ProcessFailed
	// ProcessCompleted is an Event that indicates a process finished without errors
	ProcessCompleted
)

// String returns a string representation of the current EventTag
func (tag EventTag) String() string {
	switch tag {
	case ProcessStarted:
		return "ProcessStarted"
	case ProcessTerminated:
		return "ProcessTerminated"
	case ProcessStartFailed:
		return "ProcessStartFailed"
	case ProcessFailed:
		return "ProcessFailed"
	case ProcessCompleted:
		return "ProcessCompleted"
	default:
		return "<Unknown>"
	}
}

// NodeTag distinguishes events emitted for workers from events emitted for
// supervisors
type NodeTag uint32

const (
	// WorkerNode is a business-logic goroutine
	WorkerNode NodeTag = iota
	// SupervisorNode is a supervisor monitor goroutine
	SupervisorNode
)

func (nt NodeTag) String() string {
	switch nt {
	case WorkerNode:
		return "Worker"
	case SupervisorNode:
		return "Supervisor"
	default:
		return "<Unknown>"
	}
}

// Event is a record emitted by the supervision system. Events are used for
// testing and for monitoring the healthiness of the loops.
type Event struct {
	tag                EventTag
	nodeTag            NodeTag
	processRuntimeName string
	err                error
	created            time.Time
}

// GetTag returns the EventTag from an Event
func (e Event) GetTag() EventTag {
	return e.tag
}

// GetNodeTag returns the NodeTag from an Event
func (e Event) GetNodeTag() NodeTag {
	return e.nodeTag
}

// GetProcessRuntimeName returns the given name of a process that emitted this event
func (e Event) GetProcessRuntimeName() string {
	return e.processRuntimeName
}

// Err returns an error reported by the process that emitted this event
func (e Event) Err() error {
	return e.err
}

// GetCreated returns a timestamp of the creation of the event by the process
func (e Event) GetCreated() time.Time {
	return e.created
}

// String returns an string representation for the Event
func (e Event) String() string {
	var buffer strings.Builder
	buffer.WriteString("Event{")
	buffer.WriteString(fmt.Sprintf("created: %s", e.created.Format(time.RFC3339Nano)))
	buffer.WriteString(fmt.Sprintf(", tag: %s", e.tag))
	buffer.WriteString(fmt.Sprintf(", nodeTag: %s", e.nodeTag))
	buffer.WriteString(fmt.Sprintf(", processRuntime: %s", e.processRuntimeName))
	if e.err != nil {
		buffer.WriteString(fmt.Sprintf(", err: %+v", e.err))
	}
	buffer.WriteString("}")
	return buffer.String()
}

// EventNotifier is a function that is used for reporting events from the
// supervision system.
type EventNotifier func(Event)

// EventNotifiers is a collection of notifiers.
type EventNotifiers []EventNotifier

func (ens EventNotifiers) notify(tag EventTag, nodeTag NodeTag, name string, err error) {
	ev := Event{
		tag:                tag,
		nodeTag:            nodeTag,
		processRuntimeName: name,
		err:                err,
		created:            time.Now(),
	}
	for _, en := range ens {
		en(ev)
	}
}

func (ens EventNotifiers) workerStarted(name string) {
	ens.notify(ProcessStarted, WorkerNode, name, nil)
}

func (ens EventNotifiers) workerFailed(name string, err error) {
	ens.notify(ProcessFailed, WorkerNode, name, err)
}

func (ens EventNotifiers) workerCompleted(name string) {
	ens.notify(ProcessCompleted, WorkerNode, name, nil)
}

func (ens EventNotifiers) workerTerminated(name string) {
	ens.notify(ProcessTerminated, WorkerNode, name, nil)
}

func (ens EventNotifiers) workerStartFailed(name string, err error) {
	ens.notify(ProcessStartFailed, WorkerNode, name, err)
}

func (ens EventNotifiers) supervisorStarted(name string) {
	ens.notify(ProcessStarted, SupervisorNode, name, nil)
}

func (ens EventNotifiers) supervisorTerminated(name string) {
	ens.notify(ProcessTerminated, SupervisorNode, name, nil)
}

func (ens EventNotifiers) supervisorFailed(name string, err error) {
	ens.notify(ProcessFailed, SupervisorNode, name, err)
}

func (ens EventNotifiers) supervisorStartFailed(name string, err error) {
	ens.notify(ProcessStartFailed, SupervisorNode, name, err)
}
