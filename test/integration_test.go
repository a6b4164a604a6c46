//go:build integration

package test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/cache"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/device"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/realtime"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/recovery"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/subscription"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// stack wires the full coordination layer against the in-memory realtime
// backend, the way cmd/geoguardian does minus the HTTP server.
type stack struct {
	bus    *bus.Bus
	gov    *perf.Governor
	errs   *syncerr.Handler
	client *realtime.MemoryClient
	cache  *cache.Cache
	hist   *cache.HistoryLog
	subs   *subscription.Manager
	conn   *device.ManualConnectivity
	life   *device.ManualLifecycle
	rec    *recovery.Manager
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()

	b := bus.New()
	gov := perf.New(b, perf.Config{
		SubscriptionDebounce: 20 * time.Millisecond,
		SyncDebounce:         30 * time.Millisecond,
		CacheDebounce:        20 * time.Millisecond,
	})
	errs := syncerr.New(b, syncerr.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
	})
	client := realtime.NewMemoryClient()

	locations, err := cache.New(filepath.Join(dir, "cache.json"))
	if err != nil {
		t.Fatal(err)
	}
	hist := cache.NewHistoryLog(dir)

	subs := subscription.New(b, gov, errs, client, locations, hist)
	subs.Initialize()

	conn := device.NewManualConnectivity(types.ConnectivityState{Connected: true, Type: "wifi"})
	life := device.NewManualLifecycle(types.AppStateActive)

	rec := recovery.New(b, gov, errs, client, subs, conn, life)
	rec.Initialize(context.Background())

	t.Cleanup(func() {
		rec.Cleanup()
		subs.Cleanup()
		gov.Close()
	})
	return &stack{
		bus: b, gov: gov, errs: errs, client: client,
		cache: locations, hist: hist, subs: subs,
		conn: conn, life: life, rec: rec,
	}
}

func publish(t *testing.T, s *stack, id types.UserID, lat, lon float64) {
	t.Helper()
	err := s.client.Publish(context.Background(), &types.LocationUpdate{
		UserID:    id,
		Latitude:  lat,
		Longitude: lon,
		At:        time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPublishPipeline(t *testing.T) {
	s := newStack(t)

	var callbacks atomic.Int32
	release, err := s.subs.Subscribe("ayesha", func(u *types.LocationUpdate) {
		if u != nil {
			callbacks.Add(1)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	var updated atomic.Int32
	s.bus.On(types.EventConnectionUpdated, func(ev types.Event) {
		updated.Add(1)
	})

	publish(t, s, "ayesha", 51.5007, -0.1246)
	publish(t, s, "ayesha", 51.5010, -0.1240)
	publish(t, s, "ayesha", 51.5014, -0.1235)

	if got := callbacks.Load(); got != 3 {
		t.Errorf("callbacks = %d, want 3", got)
	}
	if got := updated.Load(); got != 3 {
		t.Errorf("connection_updated events = %d, want 3", got)
	}

	// last update lands in the cache
	last, ok := s.cache.Get("ayesha")
	if !ok {
		t.Fatal("cache has no entry for ayesha")
	}
	if last.Latitude != 51.5014 {
		t.Errorf("cached latitude = %v, want 51.5014", last.Latitude)
	}

	// every update lands in the history log
	n, err := s.hist.Count("ayesha")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("history count = %d, want 3", n)
	}

	// snapshot reflects the activity
	infos := s.subs.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(infos))
	}
	if infos[0].LastUpdateAt.IsZero() {
		t.Error("LastUpdateAt not set after updates")
	}
}

func TestOfflineRecovery(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	var callbacks atomic.Int32
	if _, err := s.subs.Subscribe("ben", func(u *types.LocationUpdate) {
		if u != nil {
			callbacks.Add(1)
		}
	}); err != nil {
		t.Fatal(err)
	}

	var networkChanged, refreshRequired atomic.Int32
	s.bus.On(types.EventNetworkChanged, func(ev types.Event) {
		networkChanged.Add(1)
	})
	s.bus.On(types.EventSyncRefreshRequired, func(ev types.Event) {
		refreshRequired.Add(1)
	})

	// Drop the network, queue work while offline.
	s.conn.Set(types.ConnectivityState{Connected: false})
	s.rec.Add(recovery.KindSync, nil)

	if n := s.rec.ForceProcessQueue(ctx); n != 0 {
		t.Errorf("gated drain processed %d operations, want 0", n)
	}
	if size := s.rec.QueueSize(); size != 1 {
		t.Errorf("queue size while offline = %d, want 1", size)
	}
	if _, _, forceSyncs := s.client.Counts(); forceSyncs != 0 {
		t.Errorf("force syncs while offline = %d, want 0", forceSyncs)
	}

	// Reconnect: the standard pair joins the queue (sync is already
	// there, so only the refresh gets added) and both events fire once.
	s.conn.Set(types.ConnectivityState{Connected: true, Type: "cellular"})

	if size := s.rec.QueueSize(); size != 2 {
		t.Errorf("queue size after reconnect = %d, want 2", size)
	}
	if got := networkChanged.Load(); got != 1 {
		t.Errorf("network_changed events = %d, want 1", got)
	}
	if got := refreshRequired.Load(); got != 1 {
		t.Errorf("sync_refresh_required events = %d, want 1", got)
	}

	// One drain processes everything.
	if n := s.rec.ForceProcessQueue(ctx); n != 2 {
		t.Errorf("drain processed %d operations, want 2", n)
	}
	if size := s.rec.QueueSize(); size != 0 {
		t.Errorf("queue size after drain = %d, want 0", size)
	}
	if _, _, forceSyncs := s.client.Counts(); forceSyncs != 1 {
		t.Errorf("force syncs after drain = %d, want 1", forceSyncs)
	}

	// Let the debounced refresh triggered by sync_refresh_required settle
	// before checking the subscription survived.
	time.Sleep(100 * time.Millisecond)

	if got := s.client.SubscriberCount("ben"); got != 1 {
		t.Errorf("subscriber count after recovery = %d, want 1", got)
	}

	// The pipeline still flows end to end.
	publish(t, s, "ben", 48.8584, 2.2945)
	if got := callbacks.Load(); got != 1 {
		t.Errorf("callbacks after recovery = %d, want 1", got)
	}
}

func TestSimulatorDrivesPipeline(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	members := []types.UserID{"chen", "divya"}
	for _, id := range members {
		if _, err := s.subs.Subscribe(id, nil); err != nil {
			t.Fatal(err)
		}
	}

	sim := realtime.NewSimulator(s.client, members, 20*time.Millisecond)
	go sim.Run(ctx)

	// Each member should accumulate history as the simulator wanders.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n1, _ := s.hist.Count("chen")
		n2, _ := s.hist.Count("divya")
		if n1 >= 3 && n2 >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	n1, err := s.hist.Count("chen")
	if err != nil {
		t.Fatal(err)
	}
	if n1 < 3 {
		t.Errorf("chen history count = %d, want >= 3", n1)
	}
	if _, ok := s.cache.Get("divya"); !ok {
		t.Error("cache has no entry for divya")
	}
}
