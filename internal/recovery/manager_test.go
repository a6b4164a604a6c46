package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/device"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/realtime"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/subscription"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

type countingRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *countingRefresher) RefreshAll(ctx context.Context, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type recoveryFixture struct {
	bus       *bus.Bus
	errs      *syncerr.Handler
	client    *realtime.MemoryClient
	refresher *countingRefresher
	conn      *device.ManualConnectivity
	life      *device.ManualLifecycle
	manager   *Manager
}

func newRecoveryFixture(t *testing.T, connected bool, app types.AppState) *recoveryFixture {
	t.Helper()
	b := bus.New()
	gov := perf.New(b, perf.Config{})
	t.Cleanup(gov.Close)
	errs := syncerr.New(b, syncerr.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
	})
	client := realtime.NewMemoryClient()
	refresher := &countingRefresher{}
	conn := device.NewManualConnectivity(types.ConnectivityState{Connected: connected, Type: "wifi"})
	life := device.NewManualLifecycle(app)
	m := New(b, gov, errs, client, refresher, conn, life)
	m.Initialize(context.Background())
	t.Cleanup(m.Cleanup)
	return &recoveryFixture{bus: b, errs: errs, client: client, refresher: refresher, conn: conn, life: life, manager: m}
}

func forceSyncCount(t *testing.T, client *realtime.MemoryClient) int {
	t.Helper()
	_, _, n := client.Counts()
	return n
}

func TestInitializeProbesBothAxes(t *testing.T) {
	f := newRecoveryFixture(t, false, types.AppStateBackground)

	state := f.manager.State()
	if state.Connected || state.AppState != types.AppStateBackground || !state.Listening {
		t.Errorf("state = %+v", state)
	}
}

func TestDrainGatedWhenDisconnected(t *testing.T) {
	f := newRecoveryFixture(t, false, types.AppStateActive)
	f.manager.Add(KindSync, nil)

	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	if got := f.manager.QueueSize(); got != 1 {
		t.Errorf("queue size = %d, want 1", got)
	}
	if got := forceSyncCount(t, f.client); got != 0 {
		t.Errorf("force syncs = %d, want 0", got)
	}
}

func TestDrainGatedWhenBackgrounded(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateBackground)
	f.manager.Add(KindSubscriptionRefresh, nil)

	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Errorf("processed = %d, want 0", n)
	}
	if got := f.manager.QueueSize(); got != 1 {
		t.Errorf("queue size = %d, want 1", got)
	}
	if got := f.refresher.count(); got != 0 {
		t.Errorf("refreshes = %d, want 0", got)
	}
}

func TestDrainDispatchesByKind(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateActive)
	f.manager.Add(KindSync, nil)
	f.manager.Add(KindSubscriptionRefresh, nil)
	f.manager.Add(KindConnectionSync, nil)

	if n := f.manager.ForceProcessQueue(context.Background()); n != 3 {
		t.Errorf("processed = %d, want 3", n)
	}
	if got := forceSyncCount(t, f.client); got != 2 {
		t.Errorf("force syncs = %d, want 2", got)
	}
	if got := f.refresher.count(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("queue size = %d, want 0", got)
	}
}

func TestReconnectEnqueuesPairOnce(t *testing.T) {
	f := newRecoveryFixture(t, false, types.AppStateActive)

	var networkChanged, refreshRequired int
	f.bus.On(types.EventNetworkChanged, func(types.Event) { networkChanged++ })
	f.bus.On(types.EventSyncRefreshRequired, func(types.Event) { refreshRequired++ })

	f.conn.Set(types.ConnectivityState{Connected: true, Type: "wifi"})
	if networkChanged != 1 || refreshRequired != 1 {
		t.Errorf("events = %d/%d, want 1/1", networkChanged, refreshRequired)
	}
	if got := f.manager.QueueSize(); got != 2 {
		t.Errorf("queue size = %d, want the standard pair", got)
	}

	// losing the network is silent; regaining it again does not stack a
	// second pair behind the first
	f.conn.Set(types.ConnectivityState{Connected: false})
	if networkChanged != 1 {
		t.Errorf("disconnect emitted network_changed")
	}
	f.conn.Set(types.ConnectivityState{Connected: true, Type: "cellular"})
	if networkChanged != 2 {
		t.Errorf("second reconnect events = %d, want 2", networkChanged)
	}
	if got := f.manager.QueueSize(); got != 2 {
		t.Errorf("queue size = %d after second reconnect, want 2", got)
	}
}

func TestForegroundTransitionEnqueuesPair(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateBackground)

	var stateChanged int
	f.bus.On(types.EventAppStateChanged, func(e types.Event) {
		stateChanged++
		change := e.Payload.(types.AppStateChange)
		if change.Previous != types.AppStateBackground || change.Current != types.AppStateActive {
			t.Errorf("payload = %+v", change)
		}
	})

	f.life.Set(types.AppStateActive)
	if stateChanged != 1 {
		t.Errorf("app_state_changed = %d, want 1", stateChanged)
	}
	if got := f.manager.QueueSize(); got != 2 {
		t.Errorf("queue size = %d, want the standard pair", got)
	}

	f.life.Set(types.AppStateBackground)
	if stateChanged != 1 {
		t.Error("backgrounding emitted app_state_changed")
	}
}

func TestOfflineQueueDrainsAfterReconnect(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateActive)

	var networkChanged, refreshRequired int
	f.bus.On(types.EventNetworkChanged, func(types.Event) { networkChanged++ })
	f.bus.On(types.EventSyncRefreshRequired, func(types.Event) { refreshRequired++ })

	f.conn.Set(types.ConnectivityState{Connected: false})
	f.manager.Add(KindSync, nil)
	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Fatalf("gated drain processed %d", n)
	}
	if got := forceSyncCount(t, f.client); got != 0 {
		t.Fatalf("force syncs while offline = %d", got)
	}
	if got := f.manager.QueueSize(); got != 1 {
		t.Fatalf("queue size = %d, want 1", got)
	}

	f.conn.Set(types.ConnectivityState{Connected: true, Type: "wifi"})
	if n := f.manager.ForceProcessQueue(context.Background()); n != 2 {
		t.Errorf("processed = %d, want queued sync plus paired refresh", n)
	}
	if got := forceSyncCount(t, f.client); got != 1 {
		t.Errorf("force syncs = %d, want 1", got)
	}
	if got := f.refresher.count(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if f.manager.QueueSize() != 0 {
		t.Errorf("queue size = %d, want 0", f.manager.QueueSize())
	}
	if networkChanged != 1 || refreshRequired != 1 {
		t.Errorf("events = %d/%d, want 1/1", networkChanged, refreshRequired)
	}
}

func TestRetriesExhaustedDiscards(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateActive)
	f.client.FailForceSync(errors.New("backend down"))
	f.manager.AddWithRetries(KindSync, nil, 2)

	// each drain burns one queue retry; the inline retry wrapper makes
	// two backend attempts per drain
	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Errorf("first drain processed = %d", n)
	}
	if got := f.manager.QueueSize(); got != 1 {
		t.Fatalf("queue size after first failure = %d, want 1", got)
	}
	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Errorf("second drain processed = %d", n)
	}
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("queue size after exhaustion = %d, want 0", got)
	}

	attempts := forceSyncCount(t, f.client)
	if attempts != 4 {
		t.Errorf("backend attempts = %d, want 4", attempts)
	}
	f.manager.ForceProcessQueue(context.Background())
	if got := forceSyncCount(t, f.client); got != attempts {
		t.Error("discarded operation was retried again")
	}
	if got := len(f.errs.History()); got != 2 {
		t.Errorf("recorded terminal errors = %d, want 2", got)
	}
}

func TestRefreshInFlightCountsAsSuccess(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateActive)
	f.refresher.err = subscription.ErrRefreshInFlight
	f.manager.Add(KindSubscriptionRefresh, nil)

	if n := f.manager.ForceProcessQueue(context.Background()); n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("queue size = %d, want 0", got)
	}
}

func TestNoConcurrentDrain(t *testing.T) {
	f := newRecoveryFixture(t, true, types.AppStateActive)

	block := make(chan struct{})
	entered := make(chan struct{})
	f.manager.RegisterHandler(KindSync, func(ctx context.Context, op Operation) error {
		close(entered)
		<-block
		return nil
	})
	f.manager.Add(KindSync, nil)

	done := make(chan int, 1)
	go func() { done <- f.manager.ForceProcessQueue(context.Background()) }()
	<-entered

	if n := f.manager.ForceProcessQueue(context.Background()); n != 0 {
		t.Errorf("overlapping drain processed = %d", n)
	}
	close(block)
	if n := <-done; n != 1 {
		t.Errorf("held drain processed = %d, want 1", n)
	}
}

func TestCleanupStopsListening(t *testing.T) {
	f := newRecoveryFixture(t, false, types.AppStateActive)
	f.manager.Add(KindSync, nil)

	f.manager.Cleanup()
	f.manager.Cleanup() // idempotent

	if f.manager.State().Listening {
		t.Error("still listening after cleanup")
	}
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("queue size = %d after cleanup", got)
	}

	// released sources no longer feed transitions
	f.conn.Set(types.ConnectivityState{Connected: true})
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("transition after cleanup enqueued %d operations", got)
	}

	f.manager.Initialize(context.Background())
	if !f.manager.State().Listening {
		t.Error("re-initialize did not resume listening")
	}
}

func TestClearQueue(t *testing.T) {
	f := newRecoveryFixture(t, false, types.AppStateActive)
	f.manager.Add(KindSync, nil)
	f.manager.Add(KindConnectionSync, "payload")

	f.manager.ClearQueue()
	if got := f.manager.QueueSize(); got != 0 {
		t.Errorf("queue size = %d, want 0", got)
	}
}
