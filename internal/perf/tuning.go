// internal/perf/tuning.go
package perf

import (
	"log/slog"
	"time"
)

// Adaptive tuning thresholds and bounds.
const (
	slowResponse = time.Second
	fastResponse = 200 * time.Millisecond
	slowBatch    = 2 * time.Second
	fastBatch    = 500 * time.Millisecond

	minDebounceDelay = 100 * time.Millisecond
	maxDebounceDelay = time.Second
	minBatchSize     = 5
	maxBatchSizeCap  = 20
)

// TunePerformance nudges the debounce delays and batch threshold toward
// the observed load: slow responses widen the debounce window, fast ones
// narrow it, and batch sizing moves opposite to batch processing time.
// Reports whether anything changed.
func (g *Governor) TunePerformance() bool {
	changed := false

	avg := g.timing.OverallAverage()
	switch {
	case avg > slowResponse:
		if g.scaleDelays(1.2) {
			changed = true
			slog.Info("responses slow, widening debounce", "avg_response", avg)
		}
	case avg > 0 && avg < fastResponse:
		if g.scaleDelays(0.9) {
			changed = true
			slog.Info("responses fast, narrowing debounce", "avg_response", avg)
		}
	}

	batchAvg := g.batch.AvgProcessingTime()
	cur := g.batch.MaxSize()
	switch {
	case batchAvg > slowBatch:
		next := int(float64(cur) * 0.9)
		if next < minBatchSize {
			next = minBatchSize
		}
		if next != cur {
			g.batch.SetMaxSize(next)
			changed = true
			slog.Info("batches slow, shrinking max size", "avg_batch", batchAvg, "max_size", next)
		}
	case batchAvg > 0 && batchAvg < fastBatch:
		next := int(float64(cur) * 1.2)
		if next == cur {
			next = cur + 1
		}
		if next > maxBatchSizeCap {
			next = maxBatchSizeCap
		}
		if next != cur {
			g.batch.SetMaxSize(next)
			changed = true
			slog.Info("batches fast, growing max size", "avg_batch", batchAvg, "max_size", next)
		}
	}

	return changed
}

// scaleDelays multiplies every slot delay by factor, clamped to the
// [100ms, 1s] band. Reports whether any delay moved.
func (g *Governor) scaleDelays(factor float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := false
	for slot, d := range g.slotDelay {
		next := time.Duration(float64(d) * factor)
		if next < minDebounceDelay {
			next = minDebounceDelay
		}
		if next > maxDebounceDelay {
			next = maxDebounceDelay
		}
		if next != d {
			g.slotDelay[slot] = next
			changed = true
		}
	}
	return changed
}
