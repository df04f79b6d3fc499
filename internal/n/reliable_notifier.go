// Package n contains EventNotifier combinators for supervision trees.
package n

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/s"
)

// rootName is the name of the ReliableNotifier supervisor root tree node
const rootName = "reliable-notifier"

// notifierSettings contains settings and callbacks for a ReliableNotifier
// instance
type notifierSettings struct {
	entrypointBufferSize    uint
	notifierTimeoutDuration time.Duration

	onReliableNotifierFailure func(error)
	onNotifierTimeout         func(string)
}

// ReliableNotifierOpt allows clients to tweak the behavior of a
// ReliableNotifier instance
type ReliableNotifierOpt func(*notifierSettings)

// WithOnNotifierTimeout sets callback that gets executed when a given notifier
// is so slow to get an event that it gets skipped.
func WithOnNotifierTimeout(cb func(string)) ReliableNotifierOpt {
	return func(settings *notifierSettings) {
		settings.onNotifierTimeout = cb
	}
}

// WithOnReliableNotifierFailure sets a callback that gets executed when the
// notifier tree itself gives up
func WithOnReliableNotifierFailure(cb func(error)) ReliableNotifierOpt {
	return func(settings *notifierSettings) {
		settings.onReliableNotifierFailure = cb
	}
}

// WithNotifierTimeout sets the maximum allowed time the reliable notifier is going to
// wait for a notifier function to be ready to receive an event (defaults to 10 millis).
func WithNotifierTimeout(ts time.Duration) ReliableNotifierOpt {
	return func(settings *notifierSettings) {
		settings.notifierTimeoutDuration = ts
	}
}

// WithEntrypointBufferSize lets the caller enqueue events without waiting for
// the broadcast of previous ones
func WithEntrypointBufferSize(size uint) ReliableNotifierOpt {
	return func(settings *notifierSettings) {
		settings.entrypointBufferSize = size
	}
}

// newNotifierWorker runs a worker that listens to a channel dedicated to the
// given event notifier. In the situation the notifierFn panics, the worker gets
// restarted.
func newNotifierWorker(name string, notifierFn s.EventNotifier) (chan s.Event, c.ChildSpec) {
	ch := make(chan s.Event)
	return ch, c.New(
		name,
		func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-ch:
					notifierFn(ev)
				}
			}
		},
	)
}

// runEntrypointListener listens to a channel for events and broadcasts each
// one to every notifier worker, skipping the ones that are not ready in time.
func runEntrypointListener(
	ctx context.Context,
	settings notifierSettings,
	entrypointCh chan s.Event,
	names []string,
	notifierChans map[string]chan s.Event,
) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-entrypointCh:
			for _, name := range names {
				timer := time.NewTimer(settings.notifierTimeoutDuration)
				select {
				case <-timer.C:
					settings.onNotifierTimeout(name)
				case notifierChans[name] <- ev:
				}
				timer.Stop()
			}
		}
	}
}

// NewReliableNotifier is an EventNotifier that guarantees it will never panic
// the execution of its caller, and that it will continue sending events to
// notifiers despite previous panics. Events sent after the returned cancel
// function was called are dropped.
func NewReliableNotifier(
	notifierFns map[string]s.EventNotifier,
	opts ...ReliableNotifierOpt,
) (s.EventNotifier, context.CancelFunc, error) {
	settings := notifierSettings{
		notifierTimeoutDuration:   10 * time.Millisecond,
		onReliableNotifierFailure: func(error) {},
		onNotifierTimeout:         func(string) {},
	}
	for _, optFn := range opts {
		optFn(&settings)
	}

	names := make([]string, 0, len(notifierFns))
	for name := range notifierFns {
		names = append(names, name)
	}
	sort.Strings(names)

	entrypointCh := make(chan s.Event, settings.entrypointBufferSize)
	notifierChans := make(map[string]chan s.Event, len(names))
	workers := make([]c.ChildSpec, 0, len(names)+1)
	for _, name := range names {
		ch, worker := newNotifierWorker(name, notifierFns[name])
		notifierChans[name] = ch
		workers = append(workers, worker)
	}
	workers = append(workers, c.New("entrypoint", func(ctx context.Context) error {
		return runEntrypointListener(ctx, settings, entrypointCh, names, notifierChans)
	}))

	reliableNotifier, startErr := s.NewSupervisorSpec(
		rootName,
		s.WithNodes(workers...),
		// an impossible restart tolerance, this logic must keep running
		s.WithRestartTolerance(100, time.Second),
		s.WithNotifier(SelectEventByCriteria(
			EAnd(EHasName(rootName), EIsFailure),
			func(ev s.Event) { settings.onReliableNotifierFailure(ev.Err()) },
		)),
	).Start(context.Background())
	if startErr != nil {
		return nil, nil, fmt.Errorf("could not start reliable notifier: %w", startErr)
	}

	done := make(chan struct{})
	go func() {
		_ = reliableNotifier.Wait()
		close(done)
	}()

	eventNotifier := func(ev s.Event) {
		select {
		case entrypointCh <- ev:
		case <-done:
		}
	}
	cancelFn := func() {
		_ = reliableNotifier.Terminate()
	}
	return eventNotifier, cancelFn, nil
}
