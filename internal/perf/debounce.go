// internal/perf/debounce.go
package perf

import (
	"sync"
	"time"
)

// debounceEntry is one pending trailing-edge execution.
type debounceEntry struct {
	timer   *time.Timer
	fn      func()
	armedAt time.Time
}

// Debouncer coalesces rapid repeated triggers per key: each Schedule
// replaces any pending timer for that key, so only the most recent
// operation runs, after the delay elapses with no further calls.
type Debouncer struct {
	mu      sync.Mutex
	entries map[string]*debounceEntry
}

func NewDebouncer() *Debouncer {
	return &Debouncer{entries: make(map[string]*debounceEntry)}
}

// Schedule arms (or re-arms) the timer for key. A pending operation for
// the same key is superseded, never stacked.
func (d *Debouncer) Schedule(key string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.entries[key]; ok {
		prev.timer.Stop()
	}
	e := &debounceEntry{fn: fn, armedAt: time.Now()}
	e.timer = time.AfterFunc(delay, func() { d.fire(key, e) })
	d.entries[key] = e
}

// fire runs the entry if it is still the current one for key. A stale
// timer that lost the race to a newer Schedule is a no-op.
func (d *Debouncer) fire(key string, e *debounceEntry) {
	d.mu.Lock()
	cur, ok := d.entries[key]
	if !ok || cur != e {
		d.mu.Unlock()
		return
	}
	delete(d.entries, key)
	d.mu.Unlock()
	e.fn()
}

// Cancel drops the pending operation for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
}

// Flush runs the pending operation for key immediately, if any.
func (d *Debouncer) Flush(key string) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if ok {
		e.timer.Stop()
		delete(d.entries, key)
	}
	d.mu.Unlock()
	if ok {
		e.fn()
	}
}

// Pending reports the number of armed keys.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// ExpireIdle cancels entries that have been armed longer than maxIdle
// without firing and returns how many were dropped.
func (d *Debouncer) ExpireIdle(maxIdle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	dropped := 0
	for key, e := range d.entries {
		if e.armedAt.Before(cutoff) {
			e.timer.Stop()
			delete(d.entries, key)
			dropped++
		}
	}
	return dropped
}

// CancelAll drops every pending operation.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, key)
	}
}
