// internal/cache/cache_test.go
package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

func sample(id types.UserID) *types.LocationUpdate {
	return &types.LocationUpdate{
		UserID:    id,
		Latitude:  -33.92,
		Longitude: 18.42,
		Accuracy:  8,
		At:        time.Now().UTC(),
	}
}

func TestCacheSetGet(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	c.Set("u1", sample("u1"))
	got, ok := c.Get("u1")
	if !ok {
		t.Fatal("entry missing after Set")
	}
	if got.UserID != "u1" || got.Latitude != -33.92 {
		t.Errorf("got %+v", got)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d", c.Len())
	}
	if _, ok := c.Get("u2"); ok {
		t.Error("unexpected hit for unknown key")
	}
}

func TestCacheSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	c, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	c.Set("u1", sample("u1"))
	c.Set("u2", sample("u2"))

	reloaded, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 2 {
		t.Errorf("reloaded len = %d, want 2", reloaded.Len())
	}
	if _, ok := reloaded.Get("u1"); !ok {
		t.Error("u1 missing after reload")
	}
}

func TestInvalidateWithRefresh(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	c.Set("u1", sample("u1"))

	refreshed := sample("u1")
	refreshed.Latitude = -26.2
	err = c.InvalidateWithRefresh(context.Background(), "u1",
		func(ctx context.Context, id types.UserID) (*types.LocationUpdate, error) {
			return refreshed, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("u1")
	if !ok || got.Latitude != -26.2 {
		t.Errorf("got %+v, ok=%v, want refreshed entry", got, ok)
	}
}

func TestInvalidateWithoutRefreshDrops(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	c.Set("u1", sample("u1"))

	if err := c.InvalidateWithRefresh(context.Background(), "u1", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("u1"); ok {
		t.Error("entry survived invalidation")
	}
}

func TestInvalidateRefreshFailure(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	c.Set("u1", sample("u1"))

	boom := errors.New("source down")
	err = c.InvalidateWithRefresh(context.Background(), "u1",
		func(ctx context.Context, id types.UserID) (*types.LocationUpdate, error) {
			return nil, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped source error", err)
	}
	if _, ok := c.Get("u1"); ok {
		t.Error("entry should stay dropped when refresh fails")
	}
}

func TestBatchInvalidateContinuesPastFailures(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []types.UserID{"u1", "u2", "u3"} {
		c.Set(id, sample(id))
	}

	err = c.BatchInvalidateWithRefresh(context.Background(), []types.UserID{"u1", "u2", "u3"},
		func(ctx context.Context, id types.UserID) (*types.LocationUpdate, error) {
			if id == "u2" {
				return nil, errors.New("source down for u2")
			}
			return sample(id), nil
		})
	if err == nil {
		t.Fatal("expected joined error for u2")
	}

	if _, ok := c.Get("u1"); !ok {
		t.Error("u1 not refreshed")
	}
	if _, ok := c.Get("u2"); ok {
		t.Error("u2 should stay invalidated")
	}
	if _, ok := c.Get("u3"); !ok {
		t.Error("u3 not refreshed despite earlier failure")
	}
}
