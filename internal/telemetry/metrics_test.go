package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

func TestEventDrivenCounters(t *testing.T) {
	b := bus.New()
	m := New(b, Sources{})
	defer m.Close()

	b.Emit(types.EventSyncSuccess, types.SyncStatus{Operation: "refresh_all", Duration: time.Second})
	b.Emit(types.EventSyncSuccess, types.SyncStatus{Operation: "refresh_all"})
	b.Emit(types.EventSyncError, types.ErrorNotice{Operation: "force_sync", Type: "network_unavailable"})
	b.Emit(types.EventConnectionUpdated, types.ConnectionEvent{UserID: "u1"})
	b.Emit(types.EventConnectionUpdated, types.ConnectionEvent{UserID: "u1"})
	b.Emit(types.EventConnectionUpdated, types.ConnectionEvent{UserID: "u2"})
	b.Emit(types.EventCacheInvalidated, types.CacheInvalidation{Keys: []types.UserID{"u1"}})
	b.Emit(types.EventSyncRefreshRequired, types.SyncRefreshRequest{Reason: "connectivity_restored"})
	b.Emit(types.EventNetworkChanged, types.ConnectivityState{Connected: true, Type: "wifi"})
	b.Emit(types.EventAppStateChanged, types.AppStateChange{Previous: types.AppStateBackground, Current: types.AppStateActive})

	if got := testutil.ToFloat64(m.syncSuccess.WithLabelValues("refresh_all")); got != 2 {
		t.Errorf("sync successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.syncErrors.WithLabelValues("network_unavailable", "force_sync")); got != 1 {
		t.Errorf("sync errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.updates); got != 3 {
		t.Errorf("updates = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.invalidations); got != 1 {
		t.Errorf("invalidations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("connectivity_restored")); got != 1 {
		t.Errorf("refresh requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("connected")); got != 1 {
		t.Errorf("network transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.foregrounds); got != 1 {
		t.Errorf("foregrounds = %v, want 1", got)
	}
}

func TestDurationHistogram(t *testing.T) {
	b := bus.New()
	m := New(b, Sources{})
	defer m.Close()

	b.Emit(types.EventPerformanceMetric, types.PerformanceMetric{
		ID:       types.NewTimingID(),
		Category: "sync",
		Duration: 120 * time.Millisecond,
		Success:  true,
	})
	b.Emit(types.EventPerformanceMetric, types.PerformanceMetric{
		ID:       types.NewTimingID(),
		Category: "network",
		Duration: 2 * time.Second,
		Success:  false,
		Error:    "deadline exceeded",
	})

	if got := testutil.CollectAndCount(m.durations); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestSourcesAndExposition(t *testing.T) {
	b := bus.New()
	m := New(b, Sources{
		ActiveSubscriptions: func() int { return 4 },
		QueueDepth:          func() int { return 2 },
		MemoryBytes:         func() int64 { return 9216 },
		RetrySuccesses:      func() int { return 7 },
	})
	defer m.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"geoguardian_active_subscriptions 4",
		"geoguardian_recovery_queue_depth 2",
		"geoguardian_memory_estimate_bytes 9216",
		"geoguardian_retry_successes_total 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCloseDetachesListeners(t *testing.T) {
	b := bus.New()
	m := New(b, Sources{})

	before := b.TotalListeners()
	if before == 0 {
		t.Fatal("no listeners wired")
	}
	m.Close()
	m.Close() // idempotent
	if got := b.TotalListeners(); got != 0 {
		t.Errorf("listeners after close = %d", got)
	}

	// events after close must not panic or count
	b.Emit(types.EventConnectionUpdated, types.ConnectionEvent{UserID: "u1"})
	if got := testutil.ToFloat64(m.updates); got != 0 {
		t.Errorf("updates after close = %v", got)
	}
}
