// internal/device/publisher.go
package device

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

const defaultPublishInterval = 5 * time.Second

// Publisher pumps the local device's own state into the sync pipeline:
// each tick it samples the device and publishes the position through the
// realtime client under the configured user ID. A failed tick is not
// retried; the next sample supersedes it.
type Publisher struct {
	gov      *perf.Governor
	errs     *syncerr.Handler
	client   types.RealtimeClient
	sampler  types.DeviceSampler
	userID   types.UserID
	interval time.Duration
}

// NewPublisher builds a publisher for userID sampling every interval. A
// non-positive interval falls back to the default.
func NewPublisher(gov *perf.Governor, errs *syncerr.Handler, client types.RealtimeClient, sampler types.DeviceSampler, userID types.UserID, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = defaultPublishInterval
	}
	return &Publisher{
		gov:      gov,
		errs:     errs,
		client:   client,
		sampler:  sampler,
		userID:   userID,
		interval: interval,
	}
}

// Run samples and publishes on the configured interval until ctx is
// cancelled. The first sample is taken immediately.
func (p *Publisher) Run(ctx context.Context) error {
	slog.Info("device publisher running", "user_id", p.userID, "interval", p.interval)
	p.publishOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("device publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	state, err := p.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.errs.RecordFailure(err, "sample_device", map[string]any{"user_id": string(p.userID)})
		return
	}
	if state == nil || state.Location == nil {
		slog.Debug("device sample has no fix, skipping publish")
		return
	}

	// Attribution and battery come from the device, not the sensor fix.
	update := *state.Location
	update.UserID = p.userID
	if update.Battery == 0 {
		update.Battery = state.Battery
	}
	if update.At.IsZero() {
		update.At = state.At
	}

	tid := types.NewTimingID()
	p.gov.StartTiming(tid, perf.CategoryNetwork)
	if err := p.client.Publish(ctx, &update); err != nil {
		p.gov.EndTiming(tid, false, err.Error())
		if ctx.Err() != nil {
			return
		}
		p.errs.RecordFailure(err, "publish_location", map[string]any{"user_id": string(p.userID)})
		return
	}
	p.gov.EndTiming(tid, true, "")
}
