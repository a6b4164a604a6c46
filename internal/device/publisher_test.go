package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// capturingClient delivers every published update to a channel. Subscribe
// and ForceSync are inert.
type capturingClient struct {
	mu        sync.Mutex
	published chan *types.LocationUpdate
	fail      error
}

func newCapturingClient() *capturingClient {
	return &capturingClient{published: make(chan *types.LocationUpdate, 64)}
}

func (c *capturingClient) Subscribe(key types.UserID, onUpdate func(*types.LocationUpdate)) (func(), error) {
	return func() {}, nil
}

func (c *capturingClient) Publish(ctx context.Context, update *types.LocationUpdate) error {
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return fail
	}
	c.published <- update
	return nil
}

func (c *capturingClient) ForceSync(ctx context.Context) error { return nil }

func (c *capturingClient) setFail(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

// fixedSampler returns the same state, or error, every call.
type fixedSampler struct {
	state *types.DeviceState
	err   error
}

func (s *fixedSampler) Sample(ctx context.Context) (*types.DeviceState, error) {
	return s.state, s.err
}

func newPublisherDeps(t *testing.T) (*perf.Governor, *syncerr.Handler) {
	t.Helper()
	b := bus.New()
	gov := perf.New(b, perf.Config{
		SubscriptionDebounce: 20 * time.Millisecond,
		SyncDebounce:         20 * time.Millisecond,
		CacheDebounce:        20 * time.Millisecond,
	})
	t.Cleanup(gov.Close)
	errs := syncerr.New(b, syncerr.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		Multiplier: 2,
		MaxDelay:   10 * time.Millisecond,
	})
	return gov, errs
}

func TestPublisherStampsIdentity(t *testing.T) {
	gov, errs := newPublisherDeps(t)
	client := newCapturingClient()
	sampler := &fixedSampler{state: &types.DeviceState{
		Location: &types.LocationUpdate{Latitude: -33.92, Longitude: 18.42, At: time.Now()},
		Moving:   true,
		Battery:  73,
		At:       time.Now(),
	}}
	pub := NewPublisher(gov, errs, client, sampler, "keegan", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case u := <-client.published:
			if u.UserID != "keegan" {
				t.Fatalf("published user = %q, want keegan", u.UserID)
			}
			if u.Battery != 73 {
				t.Fatalf("battery = %v, want the device reading carried over", u.Battery)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("publish never happened")
		}
	}
}

func TestPublisherSkipsSampleWithoutFix(t *testing.T) {
	gov, errs := newPublisherDeps(t)
	client := newCapturingClient()
	pub := NewPublisher(gov, errs, client, &fixedSampler{state: &types.DeviceState{Battery: 50}}, "keegan", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	select {
	case u := <-client.published:
		t.Fatalf("published %+v from a sample with no fix", u)
	default:
	}
	if got := errs.ErrorStats().Total; got != 0 {
		t.Errorf("recorded %d errors for fixless samples, want 0", got)
	}
}

func TestPublisherRecordsSampleFailure(t *testing.T) {
	gov, errs := newPublisherDeps(t)
	client := newCapturingClient()
	pub := NewPublisher(gov, errs, client, &fixedSampler{err: errors.New("gps cold start")}, "keegan", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errs.ErrorStats().ByOperation["sample_device"] > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sample failure never recorded")
}

func TestPublisherRecordsPublishFailure(t *testing.T) {
	gov, errs := newPublisherDeps(t)
	client := newCapturingClient()
	client.setFail(errors.New("network is down"))
	sampler := &fixedSampler{state: &types.DeviceState{
		Location: &types.LocationUpdate{Latitude: 1, Longitude: 2, At: time.Now()},
		Battery:  80,
	}}
	pub := NewPublisher(gov, errs, client, sampler, "keegan", 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if errs.ErrorStats().ByOperation["publish_location"] > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("publish failure never recorded")
}

func TestWalkSamplerProducesFixes(t *testing.T) {
	w := NewWalkSampler()

	var prevBattery float64 = 101
	movedOnce := false
	for i := 0; i < 50; i++ {
		state, err := w.Sample(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if state.Location == nil || state.At.IsZero() {
			t.Fatalf("sample %d incomplete: %+v", i, state)
		}
		if state.Battery > prevBattery {
			t.Fatalf("battery climbed from %v to %v", prevBattery, state.Battery)
		}
		prevBattery = state.Battery
		if state.Moving {
			movedOnce = true
		} else if state.Location.Speed != 0 {
			t.Fatalf("resting sample reports speed %v", state.Location.Speed)
		}
	}
	if !movedOnce {
		t.Error("walker never moved across 50 samples")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Sample(ctx); err == nil {
		t.Error("expected context error")
	}
}
