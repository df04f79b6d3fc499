package s

// This file contains the supervisor spec, its start procedure and the monitor
// loop that restarts failing children.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autoops/go-autoheal/internal/c"
)

// Opt is used to configure a SupervisorSpec
type Opt func(*SupervisorSpec)

// SupervisorSpec represents the specification of a supervisor; it serves as a
// template for the construction of a Supervisor.
type SupervisorSpec struct {
	name             string
	children         []c.ChildSpec
	eventNotifiers   EventNotifiers
	restartTolerance restartTolerance
	restartBackoff   restartBackoff
}

// WithNodes appends the given workers to the supervisor, they are started
// left to right and terminated right to left.
func WithNodes(children ...c.ChildSpec) Opt {
	return func(spec *SupervisorSpec) {
		spec.children = append(spec.children, children...)
	}
}

// WithNotifier registers an EventNotifier that receives every supervision
// event. It may be given more than once.
func WithNotifier(en EventNotifier) Opt {
	return func(spec *SupervisorSpec) {
		spec.eventNotifiers = append(spec.eventNotifiers, en)
	}
}

// WithRestartTolerance specifies how many restarts the supervisor tolerates in
// the given window before giving up. A zero window never forgets restarts.
func WithRestartTolerance(maxRestartCount uint32, restartWindow time.Duration) Opt {
	return func(spec *SupervisorSpec) {
		spec.restartTolerance = restartTolerance{
			MaxRestartCount: maxRestartCount,
			RestartWindow:   restartWindow,
		}
	}
}

// WithRestartBackoff delays consecutive restarts exponentially, starting at
// base and capped at max.
func WithRestartBackoff(base, max time.Duration) Opt {
	return func(spec *SupervisorSpec) {
		spec.restartBackoff = restartBackoff{base: base, max: max}
	}
}

// NewSupervisorSpec creates a SupervisorSpec. By default a supervisor tolerates
// one restart every five seconds, as in Erlang OTP.
func NewSupervisorSpec(name string, opts ...Opt) SupervisorSpec {
	if name == "" {
		panic("Supervisor cannot have empty name")
	}
	spec := SupervisorSpec{
		name:             name,
		restartTolerance: restartTolerance{MaxRestartCount: 1, RestartWindow: 5 * time.Second},
	}
	for _, optFn := range opts {
		optFn(&spec)
	}
	return spec
}

// GetName returns the name of this spec
func (spec SupervisorSpec) GetName() string {
	return spec.name
}

// Supervisor is the runtime representation of a SupervisorSpec; it keeps its
// children running according to their Restart settings.
type Supervisor struct {
	runtimeName string
	cancel      func()
	done        chan struct{}
	result      *terminationResult
}

type terminationResult struct {
	mu  sync.Mutex
	err error
}

func (tr *terminationResult) set(err error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.err = err
}

func (tr *terminationResult) get() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.err
}

// GetName returns the runtime name of this supervisor
func (sup Supervisor) GetName() string {
	return sup.runtimeName
}

// Terminate is a synchronous procedure that halts the execution of the whole
// supervision tree.
func (sup Supervisor) Terminate() error {
	sup.cancel()
	return sup.Wait()
}

// Wait blocks until the supervisor finishes its execution, either because it
// was terminated or because a child surpassed the restart tolerance.
func (sup Supervisor) Wait() error {
	<-sup.done
	return sup.result.get()
}

// Start spawns the monitor goroutine of the supervisor and every child in
// order. It returns once all children notified they started, or with an error
// when one of them failed to start.
func (spec SupervisorSpec) Start(parentCtx context.Context) (Supervisor, error) {
	supCtx, cancelFn := context.WithCancel(parentCtx)
	notifyCh := make(chan c.ChildNotification)
	startCh := make(chan error, 1)

	sup := Supervisor{
		runtimeName: spec.name,
		cancel:      cancelFn,
		done:        make(chan struct{}),
		result:      &terminationResult{},
	}

	go func() {
		defer close(sup.done)
		err := runMonitorLoop(supCtx, spec, notifyCh, startCh)
		sup.result.set(err)
		cancelFn()
	}()

	if startErr := <-startCh; startErr != nil {
		<-sup.done
		spec.eventNotifiers.supervisorStartFailed(spec.name, startErr)
		return Supervisor{}, startErr
	}
	return sup, nil
}

// startChildren starts children left to right. If one fails, the children
// started so far are terminated.
func startChildren(
	ctx context.Context,
	spec SupervisorSpec,
	notifyCh chan c.ChildNotification,
) (map[string]c.Child, error) {
	children := make(map[string]c.Child, len(spec.children))
	for _, chSpec := range spec.children {
		ch, err := chSpec.DoStart(ctx, spec.name, notifyCh)
		if err != nil {
			spec.eventNotifiers.workerStartFailed(spec.name+c.NodeSepToken+chSpec.GetName(), err)
			termErr := terminateChildren(spec, children)
			return nil, &SupervisorStartError{
				supRuntimeName: spec.name,
				nodeName:       chSpec.GetName(),
				nodeErr:        err,
				terminationErr: termErr,
			}
		}
		spec.eventNotifiers.workerStarted(ch.GetRuntimeName())
		children[chSpec.GetName()] = ch
	}
	return children, nil
}

// terminateChildren stops children right to left; it returns nil when every
// child stopped cleanly.
func terminateChildren(spec SupervisorSpec, children map[string]c.Child) *SupervisorTerminationError {
	nodeErrMap := make(map[string]error)
	for i := len(spec.children) - 1; i >= 0; i-- {
		name := spec.children[i].GetName()
		ch, ok := children[name]
		// completed Transient/Temporary children are no longer in the map
		if !ok {
			continue
		}
		isFirstTermination, err := ch.Terminate()
		if !isFirstTermination {
			continue
		}
		if err != nil {
			spec.eventNotifiers.workerFailed(ch.GetRuntimeName(), err)
			nodeErrMap[name] = err
			continue
		}
		spec.eventNotifiers.workerTerminated(ch.GetRuntimeName())
	}
	if len(nodeErrMap) == 0 {
		return nil
	}
	return &SupervisorTerminationError{supRuntimeName: spec.name, nodeErrMap: nodeErrMap}
}

// restartChild restarts the given child until it starts or the restart
// tolerance is surpassed.
func restartChild(
	ctx context.Context,
	spec SupervisorSpec,
	tolerance *restartToleranceManager,
	notifyCh chan c.ChildNotification,
	children map[string]c.Child,
	chSpec c.ChildSpec,
	sourceErr error,
) *RestartToleranceReached {
	prevErr := sourceErr
	for {
		if !tolerance.checkTolerance() {
			return &RestartToleranceReached{
				supRuntimeName:  spec.name,
				tolerance:       spec.restartTolerance,
				failedChildName: chSpec.GetName(),
				lastErr:         prevErr,
			}
		}

		if delay := spec.restartBackoff.duration(tolerance.restartCount); delay > 0 {
			select {
			case <-ctx.Done():
				// terminating; the caller notices ctx on the next loop iteration
				return nil
			case <-time.After(delay):
			}
		}

		ch, err := chSpec.DoStart(ctx, spec.name, notifyCh)
		if err == nil {
			spec.eventNotifiers.workerStarted(ch.GetRuntimeName())
			children[chSpec.GetName()] = ch
			return nil
		}
		spec.eventNotifiers.workerStartFailed(spec.name+c.NodeSepToken+chSpec.GetName(), err)
		prevErr = err
	}
}

// runMonitorLoop starts the children and then reacts to their termination
// until the supervisor context is done or the restart tolerance is surpassed.
func runMonitorLoop(
	supCtx context.Context,
	spec SupervisorSpec,
	notifyCh chan c.ChildNotification,
	startCh chan<- error,
) error {
	children, startErr := startChildren(supCtx, spec, notifyCh)
	if startErr != nil {
		startCh <- startErr
		return startErr
	}
	spec.eventNotifiers.supervisorStarted(spec.name)
	startCh <- nil

	tolerance := &restartToleranceManager{restartTolerance: spec.restartTolerance}

	for {
		select {
		case <-supCtx.Done():
			if termErr := terminateChildren(spec, children); termErr != nil {
				spec.eventNotifiers.supervisorFailed(spec.name, termErr)
				return termErr
			}
			spec.eventNotifiers.supervisorTerminated(spec.name)
			return nil

		case chNotification := <-notifyCh:
			ch, ok := children[chNotification.GetName()]
			if !ok {
				continue
			}
			chSpec := ch.GetSpec()
			sourceErr := chNotification.Unwrap()

			restart := false
			if sourceErr != nil {
				spec.eventNotifiers.workerFailed(ch.GetRuntimeName(), sourceErr)
				restart = chSpec.GetRestart() != c.Temporary
			} else {
				spec.eventNotifiers.workerCompleted(ch.GetRuntimeName())
				restart = chSpec.GetRestart() == c.Permanent
			}
			delete(children, chSpec.GetName())
			if !restart {
				continue
			}

			if toleranceErr := restartChild(
				supCtx, spec, tolerance, notifyCh, children, chSpec, sourceErr,
			); toleranceErr != nil {
				toleranceErr.terminationErr = terminateChildren(spec, children)
				spec.eventNotifiers.supervisorFailed(spec.name, toleranceErr)
				return toleranceErr
			}
		}
	}
}

// IsRestartToleranceReached indicates if the given error was caused by a
// supervisor giving up on restarting a child
func IsRestartToleranceReached(err error) bool {
	var toleranceErr *RestartToleranceReached
	return errors.As(err, &toleranceErr)
}
