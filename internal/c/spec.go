package c

import (
	"context"
	"time"
)

// Opt is used to configure a child's specification
type Opt func(*ChildSpec)

// Restart specifies when a goroutine gets restarted
type Restart uint32

const (
	// Permanent specifies that the goroutine should be restarted any time there
	// is an error. If the goroutine is finished without errors, it is restarted
	// again.
	Permanent Restart = iota

	// Transient specifies that the goroutine should be restarted if and only if
	// the goroutine failed with an error. If the goroutine finishes without
	// errors it is not restarted again.
	Transient

	// Temporary specifies that the goroutine should not be restarted, not even
	// when the goroutine fails
	Temporary
)

func (r Restart) String() string {
	switch r {
	case Permanent:
		return "Permanent"
	case Transient:
		return "Transient"
	case Temporary:
		return "Temporary"
	default:
		return "<Unknown>"
	}
}

// ShutdownTag specifies the type of Shutdown strategy that is used when
// stopping a goroutine
type ShutdownTag uint32

const (
	indefinitelyT ShutdownTag = iota
	timeoutT
)

// Shutdown indicates how the parent supervisor will handle the stopping of the
// child goroutine.
type Shutdown struct {
	tag      ShutdownTag
	duration time.Duration
}

// Indefinitely specifies the parent supervisor must wait indefinitely for child
// goroutine to stop executing
var Indefinitely = Shutdown{tag: indefinitelyT}

// Timeout specifies a duration of time the parent supervisor will wait for the
// child goroutine to stop executing.
//
// Go does not offer a way to kill a goroutine. If the timeout is reached and
// the goroutine ignores its context, the supervisor continues with the
// shutdown procedure and the goroutine is left running.
func Timeout(d time.Duration) Shutdown {
	return Shutdown{
		tag:      timeoutT,
		duration: d,
	}
}

// startError is the error reported back to a Supervisor when the start of a
// Child fails
type startError = error

// NotifyStartFn is a function given to supervisor children to notify the
// supervisor that the child has started. A child that cannot get started
// should call it with a non-nil error.
type NotifyStartFn = func(startError)

// ChildSpec represents a Child specification; it serves as a template for the
// construction of a goroutine.
type ChildSpec struct {
	Name         string
	Shutdown     Shutdown
	Restart      Restart
	CapturePanic bool

	Start func(context.Context, NotifyStartFn) error
}

// GetName returns the specified name for a Child Spec
func (chSpec ChildSpec) GetName() string {
	return chSpec.Name
}

// GetRestart returns the Restart setting for this ChildSpec
func (chSpec ChildSpec) GetRestart() Restart {
	return chSpec.Restart
}

// DoesCapturePanic indicates if this child handles panics
func (chSpec ChildSpec) DoesCapturePanic() bool {
	return chSpec.CapturePanic
}

// WithRestart specifies how the parent supervisor should restart this worker
// after an error is encountered.
func WithRestart(r Restart) Opt {
	return func(spec *ChildSpec) {
		spec.Restart = r
	}
}

// WithShutdown specifies how the shutdown of the worker is going to be handled.
func WithShutdown(s Shutdown) Opt {
	return func(spec *ChildSpec) {
		spec.Shutdown = s
	}
}

// New creates a ChildSpec that represents a worker goroutine. The name must not
// be empty nor contain a forward slash, otherwise New panics; a bad name is a
// programming error.
//
// The startFn function receives a context.Context that must be used to accept
// stop signals from the parent supervisor.
func New(name string, startFn func(context.Context) error, opts ...Opt) ChildSpec {
	if startFn == nil {
		panic("Child cannot have empty start function")
	}
	return NewWithNotifyStart(
		name,
		func(ctx context.Context, notifyChildStart NotifyStartFn) error {
			notifyChildStart(nil)
			return startFn(ctx)
		},
		opts...,
	)
}

// NewWithNotifyStart accomplishes the same goal as New with the addition of
// passing a notifyStart callback to the start function. The worker must call
// it as soon as it considers itself initialized, otherwise the parent
// supervisor blocks.
func NewWithNotifyStart(
	name string,
	startFn func(context.Context, NotifyStartFn) error,
	opts ...Opt,
) ChildSpec {
	spec := ChildSpec{
		// same default as Erlang OTP worker shutdown
		Shutdown:     Timeout(5 * time.Second),
		CapturePanic: true,
	}

	if name == "" {
		panic("Child cannot have empty name")
	}
	for _, r := range name {
		if r == '/' {
			panic("Child name cannot contain '/'")
		}
	}
	spec.Name = name

	if startFn == nil {
		panic("Child cannot have empty start function")
	}

	for _, optFn := range opts {
		optFn(&spec)
	}
	spec.Start = startFn

	return spec
}
