package assignment

import (
	"sync"
	"time"
)

// Guard is the explicit unassign coordination token. It replaces the old
// process-global flag: the controller owns one Guard and passes it by
// reference to any code path that can construct a competing mutation, so an
// in-flight unassign can veto report regeneration no matter which call site
// asks. A timed auto-reset keeps the system live if the normal clearing path
// is skipped by an error.
type Guard struct {
	mu         sync.Mutex
	active     bool
	timer      *time.Timer
	resetAfter time.Duration
}

const defaultGuardReset = 10 * time.Second

func NewGuard() *Guard {
	return &Guard{resetAfter: defaultGuardReset}
}

// NewGuardWithReset exists for tests that cannot wait ten seconds.
func NewGuardWithReset(resetAfter time.Duration) *Guard {
	return &Guard{resetAfter: resetAfter}
}

// Engage marks an unassign as active and arms the auto-reset. Re-engaging
// while active simply re-arms the timer.
func (g *Guard) Engage() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.resetAfter, g.expire)
}

func (g *Guard) expire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.timer = nil
}

// Release clears the guard on the normal path.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
