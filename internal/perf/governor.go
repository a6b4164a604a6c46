// Package perf coalesces and meters the sync layer's work: trailing-edge
// debouncing, priority batching behind a concurrency gate, rolling timing
// windows, a memory estimate with pressure-tiered cleanup, and adaptive
// tuning of the debounce delays and batch threshold.
package perf

import (
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Slot names a debounced operation class with its own tunable delay.
type Slot string

const (
	SlotSubscriptionChanges Slot = "subscription_changes"
	SlotSyncOperations      Slot = "sync_operations"
	SlotCacheInvalidation   Slot = "cache_invalidation"
)

// Config carries the governor's knobs. Zero values fall back to defaults.
type Config struct {
	SubscriptionDebounce time.Duration `json:"subscription_debounce"`
	SyncDebounce         time.Duration `json:"sync_debounce"`
	CacheDebounce        time.Duration `json:"cache_debounce"`
	MaxBatchSize         int           `json:"max_batch_size"`
	BatchTimeout         time.Duration `json:"batch_timeout"`
	MaxConcurrentBatches int64         `json:"max_concurrent_batches"`
	WindowSize           int           `json:"window_size"`
	MemoryBudgetBytes    int64         `json:"memory_budget_bytes"`
}

func DefaultConfig() Config {
	return Config{
		SubscriptionDebounce: 300 * time.Millisecond,
		SyncDebounce:         500 * time.Millisecond,
		CacheDebounce:        200 * time.Millisecond,
		MaxBatchSize:         10,
		BatchTimeout:         time.Second,
		MaxConcurrentBatches: 3,
		WindowSize:           50,
		MemoryBudgetBytes:    10 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SubscriptionDebounce <= 0 {
		c.SubscriptionDebounce = def.SubscriptionDebounce
	}
	if c.SyncDebounce <= 0 {
		c.SyncDebounce = def.SyncDebounce
	}
	if c.CacheDebounce <= 0 {
		c.CacheDebounce = def.CacheDebounce
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = def.BatchTimeout
	}
	if c.MaxConcurrentBatches <= 0 {
		c.MaxConcurrentBatches = def.MaxConcurrentBatches
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.MemoryBudgetBytes <= 0 {
		c.MemoryBudgetBytes = def.MemoryBudgetBytes
	}
	return c
}

// Governor owns the debouncer, batcher, and timing tracker and layers
// memory accounting plus adaptive tuning on top.
type Governor struct {
	bus      *bus.Bus
	cfg      Config
	debounce *Debouncer
	batch    *Batcher
	timing   *Tracker

	mu          sync.Mutex
	slotDelay   map[Slot]time.Duration
	memEstimate int64
	cleanups    int
}

func New(b *bus.Bus, cfg Config) *Governor {
	cfg = cfg.withDefaults()
	return &Governor{
		bus:      b,
		cfg:      cfg,
		debounce: NewDebouncer(),
		batch:    NewBatcher(cfg.MaxBatchSize, cfg.BatchTimeout, cfg.MaxConcurrentBatches),
		timing:   NewTracker(b, cfg.WindowSize),
		slotDelay: map[Slot]time.Duration{
			SlotSubscriptionChanges: cfg.SubscriptionDebounce,
			SlotSyncOperations:      cfg.SyncDebounce,
			SlotCacheInvalidation:   cfg.CacheDebounce,
		},
	}
}

// Debounce schedules fn under the slot's current delay. Repeated calls
// for the same slot and key supersede each other.
func (g *Governor) Debounce(slot Slot, key string, fn func()) {
	g.debounce.Schedule(debounceKey(slot, key), g.DebounceDelay(slot), fn)
}

// DebounceWithDelay schedules fn under an explicit delay instead of the
// slot's tuned one.
func (g *Governor) DebounceWithDelay(slot Slot, key string, delay time.Duration, fn func()) {
	g.debounce.Schedule(debounceKey(slot, key), delay, fn)
}

// CancelDebounce drops a pending debounced operation.
func (g *Governor) CancelDebounce(slot Slot, key string) {
	g.debounce.Cancel(debounceKey(slot, key))
}

// FlushDebounce runs a pending debounced operation immediately.
func (g *Governor) FlushDebounce(slot Slot, key string) {
	g.debounce.Flush(debounceKey(slot, key))
}

func debounceKey(slot Slot, key string) string {
	return string(slot) + ":" + key
}

// DebounceDelay returns the slot's current (possibly tuned) delay.
func (g *Governor) DebounceDelay(slot Slot) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.slotDelay[slot]; ok {
		return d
	}
	return g.cfg.SyncDebounce
}

// RegisterBatchHandler sets the coalesced flush handler for kind.
func (g *Governor) RegisterBatchHandler(kind string, fn BatchHandler) {
	g.batch.RegisterHandler(kind, fn)
}

// AddToBatch queues an item for coalesced processing. Structural
// duplicates are skipped; reports whether the item was accepted.
func (g *Governor) AddToBatch(kind string, item BatchItem, priority int) bool {
	return g.batch.Add(kind, item, priority)
}

// FlushBatch forces the pending batch for kind out now.
func (g *Governor) FlushBatch(kind string) {
	g.batch.Flush(kind)
}

// FlushBatches forces every pending batch out.
func (g *Governor) FlushBatches() {
	g.batch.FlushAll()
}

// StartTiming opens a timing window for id under category.
func (g *Governor) StartTiming(id types.TimingID, category string) {
	g.timing.Start(id, category)
}

// EndTiming completes a timing, feeding the rolling window and emitting a
// performance_metric event.
func (g *Governor) EndTiming(id types.TimingID, success bool, errMsg string) (time.Duration, bool) {
	return g.timing.End(id, success, errMsg)
}

// TimingStats returns the aggregates for one category.
func (g *Governor) TimingStats(category string) CategoryStats {
	return g.timing.Stats(category)
}

// Metrics returns the rolling timing aggregates for every category.
func (g *Governor) Metrics() map[string]CategoryStats {
	return g.timing.AllStats()
}

// Summary is the point-in-time view exposed over the status API.
type Summary struct {
	Categories      map[string]CategoryStats `json:"categories"`
	MemoryBytes     int64                    `json:"memory_bytes"`
	MemoryBudget    int64                    `json:"memory_budget"`
	PendingDebounce int                      `json:"pending_debounce"`
	PendingBatch    int                      `json:"pending_batch"`
	ActiveTimings   int                      `json:"active_timings"`
	DebounceDelays  map[Slot]time.Duration   `json:"debounce_delays"`
	MaxBatchSize    int                      `json:"max_batch_size"`
	Cleanups        int                      `json:"cleanups"`
}

// PerformanceSummary snapshots every governed dimension.
func (g *Governor) PerformanceSummary() Summary {
	g.mu.Lock()
	delays := make(map[Slot]time.Duration, len(g.slotDelay))
	for s, d := range g.slotDelay {
		delays[s] = d
	}
	mem := g.memEstimate
	budget := g.cfg.MemoryBudgetBytes
	cleanups := g.cleanups
	g.mu.Unlock()

	return Summary{
		Categories:      g.Metrics(),
		MemoryBytes:     mem,
		MemoryBudget:    budget,
		PendingDebounce: g.debounce.Pending(),
		PendingBatch:    g.batch.TotalPending(),
		ActiveTimings:   g.timing.ActiveCount(),
		DebounceDelays:  delays,
		MaxBatchSize:    g.batch.MaxSize(),
		Cleanups:        cleanups,
	}
}

// Close drops all pending debounced and batched work and waits for any
// in-flight batch handlers.
func (g *Governor) Close() {
	g.debounce.CancelAll()
	g.batch.Close()
}
