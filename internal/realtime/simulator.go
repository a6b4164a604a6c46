// internal/realtime/simulator.go
package realtime

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Simulator publishes synthetic movement for a fixed set of circle
// members through the realtime client. Each member random-walks from a
// shared base coordinate; batteries drain slowly.
type Simulator struct {
	client   types.RealtimeClient
	ids      []types.UserID
	interval time.Duration
	state    map[types.UserID]*types.LocationUpdate
}

// NewSimulator seeds one walker per id around the base coordinate.
func NewSimulator(client types.RealtimeClient, ids []types.UserID, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	state := make(map[types.UserID]*types.LocationUpdate, len(ids))
	for _, id := range ids {
		state[id] = &types.LocationUpdate{
			UserID:    id,
			Latitude:  -33.9249 + rand.Float64()*0.02 - 0.01,
			Longitude: 18.4241 + rand.Float64()*0.02 - 0.01,
			Accuracy:  5 + rand.Float64()*15,
			Battery:   60 + rand.Float64()*40,
			At:        time.Now(),
		}
	}
	return &Simulator{
		client:   client,
		ids:      ids,
		interval: interval,
		state:    state,
	}
}

// Run publishes one step per member each tick until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	slog.Info("simulator running", "members", len(s.ids), "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulator stopped")
			return ctx.Err()
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step advances every walker and publishes the new positions.
func (s *Simulator) step(ctx context.Context) {
	for _, id := range s.ids {
		prev := s.state[id]
		next := &types.LocationUpdate{
			UserID:    id,
			Latitude:  prev.Latitude + rand.Float64()*0.001 - 0.0005,
			Longitude: prev.Longitude + rand.Float64()*0.001 - 0.0005,
			Accuracy:  5 + rand.Float64()*15,
			Speed:     rand.Float64() * 2.5,
			Heading:   rand.Float64() * 360,
			Battery:   max(prev.Battery-rand.Float64()*0.1, 1),
			At:        time.Now(),
		}
		s.state[id] = next
		if err := s.client.Publish(ctx, next); err != nil {
			slog.Warn("simulator publish failed", "user_id", id, "error", err)
		}
	}
}
