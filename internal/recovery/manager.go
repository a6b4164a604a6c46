// internal/recovery/manager.go
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Refresher rebuilds live subscriptions. Satisfied by the subscription
// Manager.
type Refresher interface {
	RefreshAll(ctx context.Context, force bool) error
}

// State is the gating snapshot: work is processed only when the device is
// connected and the app is in the foreground.
type State struct {
	Connected   bool           `json:"connected"`
	NetworkType string         `json:"network_type,omitempty"`
	AppState    types.AppState `json:"app_state"`
	Listening   bool           `json:"listening"`
}

func (s State) enabled() bool {
	return s.Connected && s.AppState == types.AppStateActive
}

// Manager queues reconciliation work while the device is offline or
// backgrounded and drains it once both axes allow processing again.
// Transitions into connected or foreground enqueue a standard sync +
// subscription-refresh pair; the drain itself runs on the scheduler's
// interval or via ForceProcessQueue.
type Manager struct {
	bus          *bus.Bus
	gov          *perf.Governor
	errs         *syncerr.Handler
	syncer       types.ConnectionSyncer
	refresher    Refresher
	connectivity types.ConnectivitySource
	lifecycle    types.LifecycleSource

	mu          sync.Mutex
	q           queue
	state       State
	handlers    map[Kind]Handler
	releaseConn func()
	releaseLife func()

	drainInProgress atomic.Bool
}

func New(b *bus.Bus, gov *perf.Governor, errs *syncerr.Handler, syncer types.ConnectionSyncer, refresher Refresher, connectivity types.ConnectivitySource, lifecycle types.LifecycleSource) *Manager {
	m := &Manager{
		bus:          b,
		gov:          gov,
		errs:         errs,
		syncer:       syncer,
		refresher:    refresher,
		connectivity: connectivity,
		lifecycle:    lifecycle,
	}
	m.handlers = defaultHandlers(m)
	return m
}

// Initialize probes the initial state of both axes and starts listening
// for transitions. Idempotent.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	if m.state.Listening {
		m.mu.Unlock()
		return
	}
	m.state.Listening = true
	m.mu.Unlock()

	initial := types.ConnectivityState{Connected: true}
	if state, err := m.connectivity.Fetch(ctx); err != nil {
		slog.Warn("initial connectivity probe failed, assuming connected", "error", err)
	} else {
		initial = state
	}

	m.mu.Lock()
	m.state.Connected = initial.Connected
	m.state.NetworkType = initial.Type
	m.state.AppState = m.lifecycle.Current()
	m.mu.Unlock()

	m.releaseConn = m.connectivity.Subscribe(m.onConnectivity)
	m.releaseLife = m.lifecycle.Subscribe(m.onAppState)
	slog.Info("recovery manager listening", "connected", initial.Connected, "app_state", m.State().AppState)
}

// onConnectivity applies a connectivity transition. Regaining the network
// enqueues the standard reconciliation pair and announces the recovery;
// losing it only records the state.
func (m *Manager) onConnectivity(state types.ConnectivityState) {
	m.mu.Lock()
	wasConnected := m.state.Connected
	m.state.Connected = state.Connected
	m.state.NetworkType = state.Type
	restored := state.Connected && !wasConnected
	if restored {
		m.enqueuePairLocked()
	}
	m.mu.Unlock()

	if !restored {
		if wasConnected && !state.Connected {
			slog.Info("connectivity lost")
		}
		return
	}
	slog.Info("connectivity restored", "type", state.Type)
	m.bus.EmitFrom(types.EventNetworkChanged, state, "recovery")
	m.bus.EmitFrom(types.EventSyncRefreshRequired, types.SyncRefreshRequest{Reason: "connectivity_restored"}, "recovery")
}

// onAppState applies a lifecycle transition. Only entering the foreground
// enqueues work and emits an event.
func (m *Manager) onAppState(state types.AppState) {
	m.mu.Lock()
	prev := m.state.AppState
	m.state.AppState = state
	foregrounded := state == types.AppStateActive && prev != types.AppStateActive
	if foregrounded {
		m.enqueuePairLocked()
	}
	m.mu.Unlock()

	if !foregrounded {
		return
	}
	slog.Info("app foregrounded", "previous", prev)
	m.bus.EmitFrom(types.EventAppStateChanged, types.AppStateChange{Previous: prev, Current: state}, "recovery")
}

// enqueuePairLocked queues the standard (sync, subscription_refresh)
// reconciliation pair, skipping kinds already queued. One queued intent
// reconciles just as well as five.
func (m *Manager) enqueuePairLocked() {
	for _, kind := range []Kind{KindSync, KindSubscriptionRefresh} {
		if m.q.containsKind(kind) {
			continue
		}
		m.q.push(newOperation(kind, nil, defaultRetries))
	}
}

// Add queues one operation with the default retry budget.
func (m *Manager) Add(kind Kind, payload any) types.OperationID {
	return m.AddWithRetries(kind, payload, defaultRetries)
}

// AddWithRetries queues one operation. At capacity the oldest queued
// operation is evicted first.
func (m *Manager) AddWithRetries(kind Kind, payload any, retries int) types.OperationID {
	if retries <= 0 {
		retries = defaultRetries
	}
	op := newOperation(kind, payload, retries)

	m.mu.Lock()
	evicted := m.q.push(op)
	size := m.q.size()
	m.mu.Unlock()

	if evicted {
		slog.Warn("recovery queue full, evicted oldest", "kind", kind, "size", size)
	} else {
		slog.Debug("queued recovery operation", "kind", kind, "size", size)
	}
	return op.ID
}

// ForceProcessQueue drains the queue immediately if processing is enabled
// and no other drain is running, returning the number of operations that
// completed. When gated, operations stay queued untouched.
func (m *Manager) ForceProcessQueue(ctx context.Context) int {
	if !m.drainInProgress.CompareAndSwap(false, true) {
		slog.Debug("drain already in progress")
		return 0
	}
	defer m.drainInProgress.Store(false)

	m.mu.Lock()
	state := m.state
	if !state.enabled() {
		pending := m.q.size()
		m.mu.Unlock()
		if pending > 0 {
			slog.Debug("processing disabled, operations remain queued",
				"pending", pending, "connected", state.Connected, "app_state", state.AppState)
		}
		return 0
	}
	batch := m.q.drainOrder()
	m.mu.Unlock()

	processed := 0
	for _, op := range batch {
		if ctx.Err() != nil {
			break
		}
		m.mu.Lock()
		handler := m.handlers[op.Kind]
		m.mu.Unlock()
		if handler == nil {
			slog.Warn("no handler for queued operation, discarding", "kind", op.Kind, "id", op.ID)
			m.removeOp(op.ID)
			continue
		}
		if err := handler(ctx, op); err != nil {
			m.retryOrDiscard(op, err)
			continue
		}
		m.removeOp(op.ID)
		processed++
	}

	if processed > 0 {
		slog.Info("recovery queue drained", "processed", processed, "remaining", m.QueueSize())
	}
	return processed
}

func (m *Manager) removeOp(id types.OperationID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.q.remove(id)
}

// retryOrDiscard burns one retry for a failed operation and discards it
// once the budget is gone. The operation may have been cleared mid-drain;
// that is not an error.
func (m *Manager) retryOrDiscard(op Operation, cause error) {
	m.mu.Lock()
	remaining, ok := m.q.decrement(op.ID)
	if ok && remaining <= 0 {
		m.q.remove(op.ID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if remaining <= 0 {
		slog.Warn("retries exhausted, discarding operation", "kind", op.Kind, "id", op.ID, "error", cause)
		return
	}
	slog.Warn("operation failed, will retry on next drain", "kind", op.Kind, "id", op.ID, "remaining", remaining, "error", cause)
}

// RegisterHandler installs or replaces the handler for kind.
func (m *Manager) RegisterHandler(kind Kind, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = h
}

// State returns the current gating snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.size()
}

// Pending returns the queued operations in dispatch order.
func (m *Manager) Pending() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.drainOrder()
}

func (m *Manager) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.q.clear()
}

// Cleanup stops listening, clears the queue, and resets to not-listening.
// Idempotent.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	releaseConn, releaseLife := m.releaseConn, m.releaseLife
	m.releaseConn, m.releaseLife = nil, nil
	m.q.clear()
	m.state.Listening = false
	m.mu.Unlock()

	if releaseConn != nil {
		releaseConn()
	}
	if releaseLife != nil {
		releaseLife()
	}
}
