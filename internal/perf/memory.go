// internal/perf/memory.go
package perf

import (
	"log/slog"
	"time"
)

// Per-unit footprint estimates in bytes. The absolute numbers matter less
// than keeping the estimate monotone in the structure sizes.
const (
	weightSubscription = 2048
	weightListener     = 512
	weightCacheEntry   = 1024
)

// Pressure-tier cleanup cut-offs.
const (
	proactiveDebounceIdle  = 2 * time.Minute
	proactiveTimingAge     = 30 * time.Second
	aggressiveDebounceIdle = 5 * time.Minute
	aggressiveTimingAge    = time.Minute
	historyShrinkFraction  = 0.75
)

// UpdateMemoryUsage recomputes the estimated footprint from the live
// structure counts and reacts to pressure: crossing 80% of the budget
// runs the proactive cleanup, crossing 100% runs the same pass with the
// older age cut-offs. Returns the new estimate.
func (g *Governor) UpdateMemoryUsage(subscriptions, listeners, cacheEntries int) int64 {
	est := int64(subscriptions)*weightSubscription +
		int64(listeners)*weightListener +
		int64(cacheEntries)*weightCacheEntry

	g.mu.Lock()
	g.memEstimate = est
	budget := g.cfg.MemoryBudgetBytes
	g.mu.Unlock()

	switch {
	case est >= budget:
		slog.Warn("memory budget exceeded",
			"estimate_bytes", est, "budget_bytes", budget)
		g.runCleanup(aggressiveDebounceIdle, aggressiveTimingAge)
	case est*5 >= budget*4:
		slog.Info("memory pressure above 80%, proactive cleanup",
			"estimate_bytes", est, "budget_bytes", budget)
		g.runCleanup(proactiveDebounceIdle, proactiveTimingAge)
	}
	return est
}

// MemoryEstimate returns the last computed footprint estimate.
func (g *Governor) MemoryEstimate() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.memEstimate
}

// StandardCleanup runs the routine maintenance pass. The scheduler calls
// this periodically regardless of memory pressure.
func (g *Governor) StandardCleanup() {
	g.runCleanup(proactiveDebounceIdle, proactiveTimingAge)
}

func (g *Governor) runCleanup(maxDebounceIdle, maxTimingAge time.Duration) {
	g.timing.Shrink(historyShrinkFraction)
	expired := g.debounce.ExpireIdle(maxDebounceIdle)
	dropped := g.timing.DropOlderThan(maxTimingAge)

	g.mu.Lock()
	g.cleanups++
	g.mu.Unlock()

	if expired > 0 || dropped > 0 {
		slog.Debug("cleanup pass complete",
			"debounce_expired", expired, "timings_dropped", dropped)
	}
}
