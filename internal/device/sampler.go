// internal/device/sampler.go
package device

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// WalkSampler is a DeviceSampler that random-walks from a base
// coordinate, standing in for the real sensor stack in simulation.
// Roughly one sample in five the walker rests, reporting Moving false
// with an unchanged position.
type WalkSampler struct {
	mu      sync.Mutex
	lat     float64
	lon     float64
	battery float64
}

// NewWalkSampler seeds a walker near the shared base coordinate.
func NewWalkSampler() *WalkSampler {
	return &WalkSampler{
		lat:     -33.9249 + rand.Float64()*0.02 - 0.01,
		lon:     18.4241 + rand.Float64()*0.02 - 0.01,
		battery: 85 + rand.Float64()*15,
	}
}

// Sample advances the walk and returns the new device state.
func (w *WalkSampler) Sample(ctx context.Context) (*types.DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	moving := rand.Float64() >= 0.2
	var speed, heading float64
	if moving {
		w.lat += rand.Float64()*0.001 - 0.0005
		w.lon += rand.Float64()*0.001 - 0.0005
		speed = 0.5 + rand.Float64()*2
		heading = rand.Float64() * 360
	}
	w.battery = max(w.battery-rand.Float64()*0.05, 1)

	now := time.Now()
	return &types.DeviceState{
		Location: &types.LocationUpdate{
			Latitude:  w.lat,
			Longitude: w.lon,
			Accuracy:  5 + rand.Float64()*15,
			Speed:     speed,
			Heading:   heading,
			Battery:   w.battery,
			At:        now,
		},
		Moving:  moving,
		Battery: w.battery,
		At:      now,
	}, nil
}
