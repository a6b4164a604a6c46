// internal/perf/timing.go
package perf

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Timing categories. Each gets its own rolling window.
const (
	CategorySubscription = "subscription"
	CategorySync         = "sync"
	CategoryNetwork      = "network"
)

type timingSample struct {
	at      time.Time
	dur     time.Duration
	success bool
}

type activeTiming struct {
	category string
	start    time.Time
}

// CategoryStats are the derived aggregates for one timing category.
type CategoryStats struct {
	Count       int           `json:"count"`
	Average     time.Duration `json:"average"`
	SuccessRate float64       `json:"success_rate"`
	ErrorRate   float64       `json:"error_rate"`
}

// Tracker records operation durations into bounded per-category rolling
// windows and emits one performance_metric event per completed timing.
type Tracker struct {
	bus  *bus.Bus
	size int

	mu      sync.Mutex
	active  map[types.TimingID]activeTiming
	windows map[string][]timingSample
}

func NewTracker(b *bus.Bus, windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Tracker{
		bus:     b,
		size:    windowSize,
		active:  make(map[types.TimingID]activeTiming),
		windows: make(map[string][]timingSample),
	}
}

// Start opens a timing under id. Starting an id twice resets its clock.
func (t *Tracker) Start(id types.TimingID, category string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = activeTiming{category: category, start: time.Now()}
}

// End closes the timing: the duration joins the category's window and one
// performance_metric event goes out. Ending an unknown id is a no-op with
// a warning, since a cleanup pass may have dropped the start record.
func (t *Tracker) End(id types.TimingID, success bool, errMsg string) (time.Duration, bool) {
	t.mu.Lock()
	a, ok := t.active[id]
	if !ok {
		t.mu.Unlock()
		slog.Warn("ending unknown timing", "id", id)
		return 0, false
	}
	delete(t.active, id)
	dur := time.Since(a.start)
	w := t.windows[a.category]
	if len(w) >= t.size {
		w = w[1:]
	}
	t.windows[a.category] = append(w, timingSample{at: time.Now(), dur: dur, success: success})
	t.mu.Unlock()

	t.bus.EmitFrom(types.EventPerformanceMetric, types.PerformanceMetric{
		ID:       id,
		Category: a.category,
		Duration: dur,
		Success:  success,
		Error:    errMsg,
	}, "perf")
	return dur, true
}

// Stats derives the aggregates for one category.
func (t *Tracker) Stats(category string) CategoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return statsOf(t.windows[category])
}

// AllStats derives aggregates for every category with samples.
func (t *Tracker) AllStats() map[string]CategoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]CategoryStats, len(t.windows))
	for cat, w := range t.windows {
		out[cat] = statsOf(w)
	}
	return out
}

func statsOf(w []timingSample) CategoryStats {
	s := CategoryStats{Count: len(w)}
	if len(w) == 0 {
		return s
	}
	var total time.Duration
	succeeded := 0
	for _, sm := range w {
		total += sm.dur
		if sm.success {
			succeeded++
		}
	}
	s.Average = total / time.Duration(len(w))
	s.SuccessRate = float64(succeeded) / float64(len(w))
	s.ErrorRate = 1 - s.SuccessRate
	return s
}

// OverallAverage pools every category into one mean response time.
func (t *Tracker) OverallAverage() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	count := 0
	for _, w := range t.windows {
		for _, sm := range w {
			total += sm.dur
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// ActiveCount reports timings started but not yet ended.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Shrink trims each window to at most fraction of the configured size,
// keeping the newest samples.
func (t *Tracker) Shrink(fraction float64) {
	if fraction <= 0 || fraction >= 1 {
		return
	}
	keep := int(float64(t.size) * fraction)
	t.mu.Lock()
	defer t.mu.Unlock()
	for cat, w := range t.windows {
		if len(w) > keep {
			t.windows[cat] = append([]timingSample(nil), w[len(w)-keep:]...)
		}
	}
}

// DropOlderThan removes completed samples recorded before now-age and any
// stale active timings started before the same cutoff. Returns how many
// entries were removed.
func (t *Tracker) DropOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for cat, w := range t.windows {
		kept := w[:0]
		for _, sm := range w {
			if sm.at.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sm)
		}
		if len(kept) == 0 {
			delete(t.windows, cat)
			continue
		}
		t.windows[cat] = kept
	}
	for id, a := range t.active {
		if a.start.Before(cutoff) {
			delete(t.active, id)
			removed++
		}
	}
	return removed
}

// Reset drops all samples and active timings.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[types.TimingID]activeTiming)
	t.windows = make(map[string][]timingSample)
}
