package c

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NodeSepToken separates a supervisor name from its children's names
const NodeSepToken = "/"

// ErrShutdownTimeout is reported when a child does not stop within its
// Shutdown timeout
var ErrShutdownTimeout = errors.New("child shutdown timeout")

// Child is the runtime representation of a ChildSpec
type Child struct {
	runtimeName string
	spec        ChildSpec
	createdAt   time.Time
	cancel      func()
	wait        func(Shutdown) (bool, error)
}

// GetRuntimeName returns the name of this child prefixed with the supervisor
// name
func (ch Child) GetRuntimeName() string {
	return ch.runtimeName
}

// GetSpec returns the ChildSpec of this child
func (ch Child) GetSpec() ChildSpec {
	return ch.spec
}

// GetCreatedAt returns the time this child was started
func (ch Child) GetCreatedAt() time.Time {
	return ch.createdAt
}

// Terminate is a synchronous procedure that halts the execution of the child.
// The first result is false when the child was already terminated.
func (ch Child) Terminate() (bool, error) {
	ch.cancel()
	return ch.wait(ch.spec.Shutdown)
}

// ChildNotification reports when a child has terminated; err is nil when the
// child completed without errors.
type ChildNotification struct {
	name        string
	runtimeName string
	err         error
}

// GetName returns the spec name of the child that emitted this notification
func (cn ChildNotification) GetName() string {
	return cn.name
}

// RuntimeName returns the runtime name of the child that emitted this
// notification
func (cn ChildNotification) RuntimeName() string {
	return cn.runtimeName
}

// Unwrap returns the error reported by ChildNotification, if any.
func (cn ChildNotification) Unwrap() error {
	return cn.err
}

func waitTimeout(terminateCh <-chan ChildNotification) func(Shutdown) (bool, error) {
	return func(shutdown Shutdown) (bool, error) {
		switch shutdown.tag {
		case indefinitelyT:
			chNotification, ok := <-terminateCh
			if !ok {
				return false, nil
			}
			return true, chNotification.Unwrap()
		case timeoutT:
			select {
			case chNotification, ok := <-terminateCh:
				if !ok {
					return false, nil
				}
				return true, chNotification.Unwrap()
			case <-time.After(shutdown.duration):
				return true, ErrShutdownTimeout
			}
		default:
			panic("invalid shutdown value received; check waitTimeout implementation")
		}
	}
}

// sendNotificationToSup delivers the termination of a child either to the
// running supervisor loop (supNotifyCh) or, when the supervisor is stopping
// its children, to the pending Terminate call (terminateCh).
func sendNotificationToSup(
	err error,
	chSpec ChildSpec,
	chRuntimeName string,
	supNotifyCh chan<- ChildNotification,
	terminateCh chan<- ChildNotification,
) {
	chNotification := ChildNotification{
		name:        chSpec.GetName(),
		runtimeName: chRuntimeName,
		err:         err,
	}
	select {
	case supNotifyCh <- chNotification:
	case terminateCh <- chNotification:
	}
}

// DoStart spawns a new goroutine that executes the Start attribute of the
// ChildSpec; it blocks until the goroutine notifies it has been initialized.
func (chSpec ChildSpec) DoStart(
	startCtx context.Context,
	supName string,
	supNotifyCh chan<- ChildNotification,
) (Child, error) {
	chRuntimeName := strings.Join([]string{supName, chSpec.GetName()}, NodeSepToken)

	childCtx, cancelFn := context.WithCancel(startCtx)

	startCh := make(chan startError, 1)
	terminateCh := make(chan ChildNotification)
	started := false

	go func() {
		// closing after the worker is done makes a second Terminate call return
		// immediately
		defer close(terminateCh)
		defer cancelFn()

		defer func() {
			if !chSpec.DoesCapturePanic() {
				return
			}
			panicVal := recover()
			if panicVal == nil {
				return
			}
			panicErr, ok := panicVal.(error)
			if !ok {
				panicErr = fmt.Errorf("panic error: %v", panicVal)
			}
			if !started {
				select {
				case startCh <- panicErr:
				default:
				}
				return
			}
			sendNotificationToSup(panicErr, chSpec, chRuntimeName, supNotifyCh, terminateCh)
		}()

		err := chSpec.Start(childCtx, func(err error) {
			started = err == nil
			startCh <- err
		})

		if !started {
			// start failed or the worker returned before notifying
			if err == nil {
				err = fmt.Errorf("worker %s returned before notifying start", chRuntimeName)
			}
			select {
			case startCh <- err:
			default:
			}
			return
		}

		sendNotificationToSup(err, chSpec, chRuntimeName, supNotifyCh, terminateCh)
	}()

	if err := <-startCh; err != nil {
		cancelFn()
		return Child{}, err
	}

	return Child{
		runtimeName: chRuntimeName,
		createdAt:   time.Now(),
		spec:        chSpec,
		cancel:      cancelFn,
		wait:        waitTimeout(terminateCh),
	}, nil
}
