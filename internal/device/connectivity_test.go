package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

func TestManualConnectivityFanOut(t *testing.T) {
	src := NewManualConnectivity(types.ConnectivityState{Connected: true, Type: "wifi"})

	var a, b []types.ConnectivityState
	releaseA := src.Subscribe(func(s types.ConnectivityState) { a = append(a, s) })
	src.Subscribe(func(s types.ConnectivityState) { b = append(b, s) })

	src.Set(types.ConnectivityState{Connected: false})
	releaseA()
	src.Set(types.ConnectivityState{Connected: true, Type: "cellular"})

	if len(a) != 1 || a[0].Connected {
		t.Errorf("released subscriber saw %v", a)
	}
	if len(b) != 2 || !b[1].Connected || b[1].Type != "cellular" {
		t.Errorf("live subscriber saw %v", b)
	}

	state, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !state.Connected || state.Type != "cellular" {
		t.Errorf("fetch = %+v", state)
	}
}

func TestProbeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mon := NewProbeMonitor(srv.URL, time.Minute)

	state, err := mon.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !state.Connected {
		t.Error("probe against live server reported disconnected")
	}

	srv.Close()
	state, err = mon.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state.Connected {
		t.Error("probe against closed server reported connected")
	}
}

func TestProbeFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	mon := NewProbeMonitor(srv.URL, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mon.Fetch(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestProbeRunDetectsChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mon := NewProbeMonitor(srv.URL, 10*time.Millisecond)

	states := make(chan types.ConnectivityState, 16)
	mon.Subscribe(func(s types.ConnectivityState) { states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	select {
	case s := <-states:
		if !s.Connected {
			t.Fatalf("first observation = %+v, want connected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial state delivered")
	}

	srv.Close()
	select {
	case s := <-states:
		if s.Connected {
			t.Fatalf("after server close got %+v, want disconnected", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never observed")
	}
}

func TestProbeDefaults(t *testing.T) {
	mon := NewProbeMonitor("", 0)
	if mon.url != defaultProbeURL {
		t.Errorf("url = %s", mon.url)
	}
	if mon.interval != defaultProbeInterval {
		t.Errorf("interval = %s", mon.interval)
	}
}
