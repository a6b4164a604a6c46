// internal/perf/batch.go
package perf

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const batchDurationWindow = 50

// BatchItem is one queued entry. Items compare by value, so duplicate
// suppression is structural rather than by reference.
type BatchItem struct {
	Key    string `json:"key"`
	Reason string `json:"reason,omitempty"`
}

// BatchHandler receives the accumulated items for a kind in one coalesced
// call, ordered by descending priority.
type BatchHandler func(items []BatchItem)

type queuedItem struct {
	item     BatchItem
	priority int
}

type pendingBatch struct {
	items []queuedItem
	timer *time.Timer
	gen   uint64
}

// Batcher accumulates items per kind and flushes each kind in a single
// coalesced handler call once the batch reaches max size or has seen no
// new items for the timeout, whichever comes first. A weighted semaphore
// defers flushes beyond the concurrency cap instead of dropping them.
type Batcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]*pendingBatch
	handlers  map[string]BatchHandler
	maxSize   int
	timeout   time.Duration
	durations []time.Duration
}

func NewBatcher(maxSize int, timeout time.Duration, maxConcurrent int64) *Batcher {
	if maxSize <= 0 {
		maxSize = 10
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		ctx:      ctx,
		cancel:   cancel,
		sem:      semaphore.NewWeighted(maxConcurrent),
		pending:  make(map[string]*pendingBatch),
		handlers: make(map[string]BatchHandler),
		maxSize:  maxSize,
		timeout:  timeout,
	}
}

// RegisterHandler sets the coalesced flush handler for kind.
func (b *Batcher) RegisterHandler(kind string, fn BatchHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = fn
}

// Add queues item under kind. An item structurally equal to one already
// queued is skipped; Add reports whether the item was accepted. Reaching
// max size flushes immediately, otherwise the inactivity timer restarts.
func (b *Batcher) Add(kind string, item BatchItem, priority int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.pending[kind]
	if !ok {
		pb = &pendingBatch{}
		b.pending[kind] = pb
	}
	for _, q := range pb.items {
		if q.item == item {
			return false
		}
	}
	pb.items = append(pb.items, queuedItem{item: item, priority: priority})
	sort.SliceStable(pb.items, func(i, j int) bool {
		return pb.items[i].priority > pb.items[j].priority
	})

	if len(pb.items) >= b.maxSize {
		b.flushLocked(kind)
		return true
	}

	pb.gen++
	gen := pb.gen
	if pb.timer != nil {
		pb.timer.Stop()
	}
	pb.timer = time.AfterFunc(b.timeout, func() { b.flushIfCurrent(kind, gen) })
	return true
}

// flushIfCurrent flushes kind only if no Add re-armed the timer since gen.
func (b *Batcher) flushIfCurrent(kind string, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pb, ok := b.pending[kind]
	if !ok || pb.gen != gen {
		return
	}
	b.flushLocked(kind)
}

// Flush forces the pending batch for kind out now.
func (b *Batcher) Flush(kind string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked(kind)
}

// FlushAll forces every pending batch out.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind := range b.pending {
		b.flushLocked(kind)
	}
}

func (b *Batcher) flushLocked(kind string) {
	pb, ok := b.pending[kind]
	if !ok || len(pb.items) == 0 {
		return
	}
	if pb.timer != nil {
		pb.timer.Stop()
	}
	delete(b.pending, kind)

	items := make([]BatchItem, len(pb.items))
	for i, q := range pb.items {
		items[i] = q.item
	}
	handler, ok := b.handlers[kind]
	if !ok {
		slog.Warn("no batch handler registered, dropping batch", "kind", kind, "items", len(items))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.sem.Acquire(b.ctx, 1); err != nil {
			return
		}
		defer b.sem.Release(1)
		start := time.Now()
		handler(items)
		b.recordDuration(time.Since(start))
	}()
}

func (b *Batcher) recordDuration(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.durations) >= batchDurationWindow {
		b.durations = b.durations[1:]
	}
	b.durations = append(b.durations, d)
}

// AvgProcessingTime returns the mean handler duration over the rolling
// window, zero when nothing has flushed yet.
func (b *Batcher) AvgProcessingTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range b.durations {
		total += d
	}
	return total / time.Duration(len(b.durations))
}

// PendingCount reports the queued item count for kind.
func (b *Batcher) PendingCount(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pb, ok := b.pending[kind]; ok {
		return len(pb.items)
	}
	return 0
}

// TotalPending reports queued items across all kinds.
func (b *Batcher) TotalPending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, pb := range b.pending {
		total += len(pb.items)
	}
	return total
}

// SetMaxSize adjusts the flush threshold. Used by adaptive tuning.
func (b *Batcher) SetMaxSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.maxSize = n
	}
}

// MaxSize returns the current flush threshold.
func (b *Batcher) MaxSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxSize
}

// Close drops pending batches without running them, aborts deferred
// flushes, and waits for in-flight handlers to finish.
func (b *Batcher) Close() {
	b.mu.Lock()
	for kind, pb := range b.pending {
		if pb.timer != nil {
			pb.timer.Stop()
		}
		delete(b.pending, kind)
	}
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
}
