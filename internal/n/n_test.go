package n_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoops/go-autoheal/internal/c"
	"github.com/autoops/go-autoheal/internal/n"
	"github.com/autoops/go-autoheal/internal/s"
)

type recorder struct {
	mu     sync.Mutex
	events []s.Event
}

func (r *recorder) notify(ev s.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.GetProcessRuntimeName())
	}
	return out
}

func waitDoneWorker(name string) c.ChildSpec {
	return c.New(name, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
}

// runTree starts and terminates a tree of three workers, which emits eight
// events
func runTree(t *testing.T, notifier s.EventNotifier) {
	t.Helper()
	sup, err := s.NewSupervisorSpec("root",
		s.WithNodes(waitDoneWorker("child0"), waitDoneWorker("child1"), waitDoneWorker("child2")),
		s.WithNotifier(notifier),
	).Start(context.Background())
	require.NoError(t, err)
	require.NoError(t, sup.Terminate())
}

const treeEvents = 8

func TestReliableNotifierHappyPath(t *testing.T) {
	recs := []*recorder{{}, {}, {}}
	evNotifier, cancel, err := n.NewReliableNotifier(
		map[string]s.EventNotifier{
			"notifier1": recs[0].notify,
			"notifier2": recs[1].notify,
			"notifier3": recs[2].notify,
		},
		n.WithNotifierTimeout(time.Second),
	)
	require.NoError(t, err)
	defer cancel()

	runTree(t, evNotifier)

	for _, rec := range recs {
		assert.Eventually(t, func() bool { return rec.count() == treeEvents }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, "root/child0", recs[0].names()[0])
}

func TestReliableNotifierSurvivesPanickingNotifier(t *testing.T) {
	var calls int32
	panicky := func(s.Event) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			panic("notifier exploded")
		}
	}
	rec := &recorder{}
	evNotifier, cancel, err := n.NewReliableNotifier(
		map[string]s.EventNotifier{"panicky": panicky, "recorder": rec.notify},
		n.WithNotifierTimeout(time.Second),
	)
	require.NoError(t, err)
	defer cancel()

	assert.NotPanics(t, func() { runTree(t, evNotifier) })

	assert.Eventually(t, func() bool { return rec.count() == treeEvents }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) > 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestReliableNotifierSkipsSlowNotifier(t *testing.T) {
	var timeouts int32
	slow := func(s.Event) { time.Sleep(100 * time.Millisecond) }
	rec := &recorder{}
	evNotifier, cancel, err := n.NewReliableNotifier(
		map[string]s.EventNotifier{"fast": rec.notify, "slow": slow},
		n.WithNotifierTimeout(5*time.Millisecond),
		n.WithEntrypointBufferSize(treeEvents),
		n.WithOnNotifierTimeout(func(name string) {
			assert.Equal(t, "slow", name)
			atomic.AddInt32(&timeouts, 1)
		}),
	)
	require.NoError(t, err)
	defer cancel()

	start := time.Now()
	runTree(t, evNotifier)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Eventually(t, func() bool { return rec.count() == treeEvents }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, atomic.LoadInt32(&timeouts))
}

func TestReliableNotifierDropsEventsAfterCancel(t *testing.T) {
	rec := &recorder{}
	evNotifier, cancel, err := n.NewReliableNotifier(map[string]s.EventNotifier{"recorder": rec.notify})
	require.NoError(t, err)
	cancel()

	done := make(chan struct{})
	go func() {
		evNotifier(s.Event{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier blocked after cancel")
	}
}

func TestEventCriteria(t *testing.T) {
	root := &recorder{}
	failures := &recorder{}
	tolerance := &recorder{}

	failing := c.New("healer", func(context.Context) error { return errors.New("boom") })
	sup, err := s.NewSupervisorSpec("root",
		s.WithNodes(waitDoneWorker("monitor"), failing),
		s.WithRestartTolerance(1, time.Minute),
		s.WithNotifier(n.SelectEventByCriteria(n.EHasName("root"), root.notify)),
		s.WithNotifier(n.SelectEventByCriteria(n.EAnd(n.EIsWorker, n.EIsFailure), failures.notify)),
		s.WithNotifier(n.SelectEventByCriteria(n.EIsRestartToleranceReached, tolerance.notify)),
	).Start(context.Background())
	require.NoError(t, err)
	assert.Error(t, sup.Wait())

	// started, then failed
	assert.Equal(t, []string{"root", "root"}, root.names())
	assert.Equal(t, []string{"root/healer", "root/healer"}, failures.names())
	assert.Equal(t, []string{"root"}, tolerance.names())

	assert.False(t, n.EHasName("root")(s.Event{}))
	assert.False(t, n.EIsRestartToleranceReached(s.Event{}))
}

func TestReliableNotifierReportsItsOwnFailure(t *testing.T) {
	failures := make(chan error, 1)
	alwaysPanics := func(s.Event) { panic("notifier exploded") }
	evNotifier, cancel, err := n.NewReliableNotifier(
		map[string]s.EventNotifier{"panicky": alwaysPanics},
		n.WithNotifierTimeout(100*time.Millisecond),
		n.WithOnReliableNotifierFailure(func(err error) {
			select {
			case failures <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)
	defer cancel()

	// every event restarts the notifier worker, far beyond the tree tolerance
	for i := 0; i < 200; i++ {
		evNotifier(s.Event{})
	}

	select {
	case err := <-failures:
		assert.True(t, s.IsRestartToleranceReached(err))
	case <-time.After(2 * time.Second):
		t.Fatal("notifier tree failure was not reported")
	}
}
