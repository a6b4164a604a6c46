// Package subscription owns the set of live per-user subscriptions to the
// realtime service. It enforces at most one backing subscription per user,
// funnels every accepted update through the cache and history log before
// fanning it out on the bus, and rebuilds the whole set on demand through
// the error handler's retry wrapper.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// ErrRefreshInFlight is returned when a full refresh is requested while
// one is already running. Callers that only need eventual consistency
// treat it as success.
var ErrRefreshInFlight = errors.New("refresh already in progress")

// UpdateFunc receives location updates for a subscribed user. A nil
// update signals that the remote record was deleted.
type UpdateFunc func(*types.LocationUpdate)

// History receives every accepted update for durable per-user logs.
type History interface {
	Append(update *types.LocationUpdate) error
}

// record tracks one live backing subscription. The backing release
// capability must be invoked exactly once; releaseOnce guarantees it.
type record struct {
	userID       types.UserID
	callback     UpdateFunc
	unsubscribe  func()
	createdAt    time.Time
	lastUpdateAt time.Time
	releaseOnce  sync.Once
}

func (r *record) release() {
	r.releaseOnce.Do(func() {
		if r.unsubscribe != nil {
			r.unsubscribe()
		}
	})
}

// Info is a point-in-time view of one subscription.
type Info struct {
	UserID       types.UserID `json:"user_id"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUpdateAt time.Time    `json:"last_update_at"`
}

// Manager coordinates the subscription set.
type Manager struct {
	bus     *bus.Bus
	gov     *perf.Governor
	errs    *syncerr.Handler
	client  types.RealtimeClient
	cache   types.LocationCache
	history History

	mu              sync.Mutex
	subs            map[types.UserID]*record
	initialized     bool
	refreshListener *bus.Listener

	refreshInProgress atomic.Bool
}

// New builds a Manager. history may be nil when no durable log is wanted.
func New(b *bus.Bus, gov *perf.Governor, errs *syncerr.Handler, client types.RealtimeClient, cache types.LocationCache, history History) *Manager {
	return &Manager{
		bus:     b,
		gov:     gov,
		errs:    errs,
		client:  client,
		cache:   cache,
		history: history,
		subs:    make(map[types.UserID]*record),
	}
}

// Initialize wires the refresh-required listener. Idempotent.
func (m *Manager) Initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		slog.Debug("subscription manager already initialized")
		return
	}
	m.refreshListener = m.bus.On(types.EventSyncRefreshRequired, m.onRefreshRequired)
	m.initialized = true
	slog.Info("subscription manager initialized")
}

// onRefreshRequired funnels refresh-required events into the debounced
// refresh paths. Scoped requests refresh only the named users.
func (m *Manager) onRefreshRequired(ev types.Event) {
	req, _ := ev.Payload.(types.SyncRefreshRequest)
	if len(req.UserIDs) > 0 {
		ids := req.UserIDs
		m.gov.Debounce(perf.SlotSyncOperations, "refresh_users", func() {
			if err := m.RefreshForUsers(context.Background(), ids); err != nil {
				slog.Error("scoped refresh failed", "users", len(ids), "error", err)
			}
		})
		return
	}
	if err := m.RefreshAll(context.Background(), false); err != nil {
		slog.Error("refresh scheduling failed", "error", err)
	}
}

// Subscribe opens a backing subscription for userID, tearing down any
// existing one for the same key first. The returned release function is
// idempotent. Failures are classified and recorded before returning.
func (m *Manager) Subscribe(userID types.UserID, cb UpdateFunc) (func(), error) {
	tid := types.NewTimingID()
	m.gov.StartTiming(tid, perf.CategorySubscription)

	if err := m.open(userID, cb); err != nil {
		m.gov.EndTiming(tid, false, err.Error())
		se := m.errs.RecordFailure(err, "subscribe_user", map[string]any{"user_id": string(userID)})
		return nil, se
	}
	m.gov.EndTiming(tid, true, "")

	m.bus.EmitFrom(types.EventConnectionAdded, types.ConnectionEvent{UserID: userID}, "subscription")
	slog.Info("subscription added", "user_id", userID)
	m.reportMemory()

	var once sync.Once
	release := func() {
		once.Do(func() { m.Remove(userID) })
	}
	return release, nil
}

// open tears down any existing subscription for id, then opens and
// records a new backing one. The backing release runs outside the lock.
func (m *Manager) open(id types.UserID, cb UpdateFunc) error {
	m.mu.Lock()
	prev, had := m.subs[id]
	if had {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if had {
		slog.Warn("subscription exists, replacing", "user_id", id)
		prev.release()
	}

	unsub, err := m.client.Subscribe(id, func(u *types.LocationUpdate) { m.onUpdate(id, u) })
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", id, err)
	}

	rec := &record{
		userID:      id,
		callback:    cb,
		unsubscribe: unsub,
		createdAt:   time.Now(),
	}
	m.mu.Lock()
	stale, hadStale := m.subs[id]
	m.subs[id] = rec
	m.mu.Unlock()
	if hadStale {
		// lost a race with a concurrent open for the same key
		stale.release()
	}
	return nil
}

// Remove releases the backing subscription for userID and deletes the
// record. Removing an unknown key is a no-op with a warning.
func (m *Manager) Remove(userID types.UserID) {
	m.mu.Lock()
	rec, ok := m.subs[userID]
	if ok {
		delete(m.subs, userID)
	}
	m.mu.Unlock()

	if !ok {
		slog.Warn("removing unknown subscription", "user_id", userID)
		return
	}
	rec.release()
	m.bus.EmitFrom(types.EventConnectionRemoved, types.ConnectionEvent{UserID: userID}, "subscription")
	slog.Info("subscription removed", "user_id", userID)
	m.reportMemory()
}

// onUpdate is the backing callback shared by every subscription: stamp
// the record, write through the cache, append history, broadcast, then
// hand the update to the user callback. Updates for keys that were
// removed while the fan-out was in flight are dropped.
func (m *Manager) onUpdate(id types.UserID, update *types.LocationUpdate) {
	m.mu.Lock()
	rec, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.lastUpdateAt = time.Now()
	cb := rec.callback
	m.mu.Unlock()

	if update == nil {
		// the member's document is gone; drop the cached position with it
		if err := m.cache.InvalidateWithRefresh(context.Background(), id, nil); err != nil {
			slog.Warn("cache invalidation failed", "user_id", id, "error", err)
		}
		m.bus.EmitFrom(types.EventCacheInvalidated, types.CacheInvalidation{Keys: []types.UserID{id}}, "subscription")
		m.bus.EmitFrom(types.EventConnectionRemoved, types.ConnectionEvent{UserID: id}, "subscription")
		if cb != nil {
			cb(nil)
		}
		return
	}

	m.cache.Set(id, update)
	m.gov.Debounce(perf.SlotCacheInvalidation, string(id), func() {
		m.bus.EmitFrom(types.EventCacheInvalidated, types.CacheInvalidation{
			Keys:      []types.UserID{id},
			Refreshed: true,
		}, "subscription")
	})
	if m.history != nil {
		if err := m.history.Append(update); err != nil {
			slog.Warn("history append failed", "user_id", id, "error", err)
		}
	}

	m.bus.EmitFrom(types.EventConnectionUpdated, types.ConnectionEvent{UserID: id, Update: update}, "subscription")
	if cb != nil {
		cb(update)
	}
}

// RefreshAll rebuilds every subscription. Without force the work is
// debounced on the sync-operations slot and RefreshAll returns once it
// is scheduled; with force it runs synchronously. Concurrent full
// refreshes are rejected with ErrRefreshInFlight, never queued.
func (m *Manager) RefreshAll(ctx context.Context, force bool) error {
	if !force {
		// the caller's ctx may be gone by the time the timer fires
		m.gov.Debounce(perf.SlotSyncOperations, "refresh_all", func() {
			if err := m.refreshAll(context.Background()); err != nil && !errors.Is(err, ErrRefreshInFlight) {
				slog.Error("debounced refresh failed", "error", err)
			}
		})
		return nil
	}
	return m.refreshAll(ctx)
}

func (m *Manager) refreshAll(ctx context.Context) error {
	if !m.refreshInProgress.CompareAndSwap(false, true) {
		slog.Warn("refresh already in progress, rejecting")
		return ErrRefreshInFlight
	}
	defer m.refreshInProgress.Store(false)

	m.bus.EmitFrom(types.EventSyncLoading, types.SyncStatus{Operation: "refresh_all"}, "subscription")
	tid := types.NewTimingID()
	m.gov.StartTiming(tid, perf.CategorySync)
	start := time.Now()

	m.mu.Lock()
	released := make([]*record, 0, len(m.subs))
	callbacks := make(map[types.UserID]UpdateFunc, len(m.subs))
	keys := make([]types.UserID, 0, len(m.subs))
	for id, rec := range m.subs {
		keys = append(keys, id)
		callbacks[id] = rec.callback
		released = append(released, rec)
	}
	m.subs = make(map[types.UserID]*record)
	m.mu.Unlock()

	for _, rec := range released {
		rec.release()
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	err := m.reopen(ctx, "refresh_subscriptions", keys, callbacks)
	if err != nil {
		// keys that did not come back have no live feed behind them; drop
		// their cached positions so consumers don't trust a stale dot
		lost := make([]types.UserID, 0, len(keys))
		m.mu.Lock()
		for _, id := range keys {
			if _, ok := m.subs[id]; !ok {
				lost = append(lost, id)
			}
		}
		m.mu.Unlock()
		if len(lost) > 0 {
			if ierr := m.cache.BatchInvalidateWithRefresh(context.Background(), lost, nil); ierr != nil {
				slog.Warn("cache invalidation failed for lost keys", "keys", len(lost), "error", ierr)
			}
			m.bus.EmitFrom(types.EventCacheInvalidated, types.CacheInvalidation{Keys: lost}, "subscription")
		}
		m.gov.EndTiming(tid, false, err.Error())
		return err
	}
	m.gov.EndTiming(tid, true, "")
	m.bus.EmitFrom(types.EventSyncSuccess, types.SyncStatus{
		Operation: "refresh_all",
		Duration:  time.Since(start),
	}, "subscription")
	slog.Info("refresh complete", "subscriptions", len(keys), "took", time.Since(start))
	m.reportMemory()
	return nil
}

// RefreshForUsers tears down and recreates the subscriptions for ids
// without touching any other key. Unknown ids are skipped.
func (m *Manager) RefreshForUsers(ctx context.Context, ids []types.UserID) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	released := make([]*record, 0, len(ids))
	callbacks := make(map[types.UserID]UpdateFunc, len(ids))
	keys := make([]types.UserID, 0, len(ids))
	for _, id := range ids {
		rec, ok := m.subs[id]
		if !ok {
			continue
		}
		delete(m.subs, id)
		keys = append(keys, id)
		callbacks[id] = rec.callback
		released = append(released, rec)
	}
	m.mu.Unlock()

	for _, rec := range released {
		rec.release()
	}
	if len(keys) == 0 {
		slog.Debug("no live subscriptions among refresh targets", "requested", len(ids))
		return nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return m.reopen(ctx, "refresh_users", keys, callbacks)
}

// reopen re-subscribes every key, wrapped as one retryable batch. A key
// that fails does not stop the remaining keys; a partial batch returns an
// aggregate error so the retry wrapper can run the whole batch again
// (re-opening an already-recovered key just replaces it).
func (m *Manager) reopen(ctx context.Context, name string, keys []types.UserID, callbacks map[types.UserID]UpdateFunc) error {
	return m.errs.ExecuteWithRetry(ctx, name, func(ctx context.Context) error {
		failed := 0
		for _, id := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.open(id, callbacks[id]); err != nil {
				failed++
				slog.Warn("re-subscribe failed, continuing", "user_id", id, "error", err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("subscription refresh incomplete: %d of %d keys failed", failed, len(keys))
		}
		return nil
	})
}

// ActiveUserIDs returns the subscribed keys in stable order.
func (m *Manager) ActiveUserIDs() []types.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]types.UserID, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasSubscription reports whether userID has a live subscription.
func (m *Manager) HasSubscription(userID types.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[userID]
	return ok
}

// Snapshot returns a stable-ordered view of every live subscription.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.subs))
	for _, rec := range m.subs {
		out = append(out, Info{
			UserID:       rec.userID,
			CreatedAt:    rec.createdAt,
			LastUpdateAt: rec.lastUpdateAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Cleanup releases every backing subscription, drops the refresh
// listener, and returns the manager to its pre-Initialize state.
// Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	released := make([]*record, 0, len(m.subs))
	for _, rec := range m.subs {
		released = append(released, rec)
	}
	m.subs = make(map[types.UserID]*record)
	listener := m.refreshListener
	m.refreshListener = nil
	m.initialized = false
	m.mu.Unlock()

	for _, rec := range released {
		rec.release()
	}
	if listener != nil {
		listener.Unsubscribe()
	}
	slog.Info("subscription manager cleaned up", "released", len(released))
}

// reportMemory feeds the live structure sizes to the memory governor,
// debounced so a subscribe storm recomputes the estimate once.
func (m *Manager) reportMemory() {
	m.gov.Debounce(perf.SlotSubscriptionChanges, "report_memory", func() {
		m.mu.Lock()
		subs := len(m.subs)
		m.mu.Unlock()
		m.gov.UpdateMemoryUsage(subs, m.bus.TotalListeners(), m.cache.Len())
	})
}
