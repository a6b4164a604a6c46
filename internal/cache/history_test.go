// internal/cache/history_test.go
package cache

import (
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

func TestHistoryLog(t *testing.T) {
	log := NewHistoryLog(t.TempDir())

	u := &types.LocationUpdate{
		UserID:    "u1",
		Latitude:  -33.92,
		Longitude: 18.42,
		At:        time.Now().UTC(),
	}
	if err := log.Append(u); err != nil {
		t.Fatal(err)
	}

	updates, err := log.Tail("u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].Latitude != -33.92 {
		t.Errorf("latitude = %v", updates[0].Latitude)
	}

	count, err := log.Count("u1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestHistoryTailLimit(t *testing.T) {
	log := NewHistoryLog(t.TempDir())

	for i := 0; i < 5; i++ {
		u := &types.LocationUpdate{
			UserID:   "u1",
			Latitude: float64(i),
			At:       time.Now().UTC(),
		}
		if err := log.Append(u); err != nil {
			t.Fatal(err)
		}
	}

	updates, err := log.Tail("u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 2 {
		t.Fatalf("tail length = %d, want 2", len(updates))
	}
	if updates[0].Latitude != 3 || updates[1].Latitude != 4 {
		t.Errorf("tail = [%v, %v], want the 2 newest oldest-first", updates[0].Latitude, updates[1].Latitude)
	}
}

func TestHistoryIsolatedPerUser(t *testing.T) {
	log := NewHistoryLog(t.TempDir())

	for _, id := range []types.UserID{"u1", "u1", "u2"} {
		if err := log.Append(&types.LocationUpdate{UserID: id, At: time.Now().UTC()}); err != nil {
			t.Fatal(err)
		}
	}

	c1, err := log.Count("u1")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := log.Count("u2")
	if err != nil {
		t.Fatal(err)
	}
	if c1 != 2 || c2 != 1 {
		t.Errorf("counts = %d/%d, want 2/1", c1, c2)
	}
}

func TestHistoryUnknownUser(t *testing.T) {
	log := NewHistoryLog(t.TempDir())

	updates, err := log.Tail("ghost", 10)
	if err != nil {
		t.Fatal(err)
	}
	if updates != nil {
		t.Errorf("tail for unknown user = %v, want nil", updates)
	}
	count, err := log.Count("ghost")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("count = %d", count)
	}
}
