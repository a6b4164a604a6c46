// internal/device/lifecycle.go
package device

import (
	"sync"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// ManualLifecycle is a LifecycleSource driven by explicit Set calls. On a
// server there is no platform lifecycle to observe, so the process runs
// as permanently active unless a test or the simulator says otherwise.
type ManualLifecycle struct {
	mu    sync.Mutex
	state types.AppState
	next  int
	subs  map[int]func(types.AppState)
}

func NewManualLifecycle(initial types.AppState) *ManualLifecycle {
	if initial == "" {
		initial = types.AppStateActive
	}
	return &ManualLifecycle{
		state: initial,
		subs:  make(map[int]func(types.AppState)),
	}
}

// Subscribe registers fn for subsequent Set calls.
func (l *ManualLifecycle) Subscribe(fn func(types.AppState)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	handle := l.next
	l.next++
	l.subs[handle] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, handle)
	}
}

func (l *ManualLifecycle) Current() types.AppState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Set records the new state and fans it out to every subscriber.
func (l *ManualLifecycle) Set(state types.AppState) {
	l.mu.Lock()
	l.state = state
	fns := make([]func(types.AppState), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
