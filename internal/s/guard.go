package s

import (
	"sync"
	"time"
)

// RestartGuard applies a restart tolerance to restarts that happen outside of a
// supervision tree, like the restart of an external process.
type RestartGuard struct {
	mu  sync.Mutex
	mgr restartToleranceManager
}

// NewRestartGuard allows at most maxRestartCount restarts within restartWindow
func NewRestartGuard(maxRestartCount uint32, restartWindow time.Duration) *RestartGuard {
	return &RestartGuard{
		mgr: restartToleranceManager{
			restartTolerance: restartTolerance{
				MaxRestartCount: maxRestartCount,
				RestartWindow:   restartWindow,
			},
		},
	}
}

// Allow registers a restart and reports whether it is within the tolerance
func (g *RestartGuard) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mgr.checkTolerance()
}
