// internal/device/connectivity.go
package device

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

const (
	defaultProbeURL      = "https://connectivitycheck.gstatic.com/generate_204"
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// ProbeMonitor derives connectivity from a periodic HTTP probe. Any
// response from the probe endpoint means the network is reachable; a
// transport error means it is not. Subscribers are notified on every
// observed change, including the first probe result.
type ProbeMonitor struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu    sync.Mutex
	last  types.ConnectivityState
	known bool
	next  int
	subs  map[int]func(types.ConnectivityState)
}

// NewProbeMonitor builds a monitor for url checked every interval. Zero
// values fall back to the defaults.
func NewProbeMonitor(url string, interval time.Duration) *ProbeMonitor {
	if url == "" {
		url = defaultProbeURL
	}
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	return &ProbeMonitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: defaultProbeTimeout},
		subs:     make(map[int]func(types.ConnectivityState)),
	}
}

// Subscribe registers fn for subsequent transitions and returns a release
// function. The current state is not replayed; use Fetch for that.
func (p *ProbeMonitor) Subscribe(fn func(types.ConnectivityState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	handle := p.next
	p.next++
	p.subs[handle] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, handle)
	}
}

// Fetch probes once. A transport failure reports disconnected rather than
// an error; the error return is reserved for context cancellation.
func (p *ProbeMonitor) Fetch(ctx context.Context) (types.ConnectivityState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return types.ConnectivityState{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.ConnectivityState{}, ctx.Err()
		}
		return types.ConnectivityState{Connected: false}, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return types.ConnectivityState{Connected: true, Type: "probe"}, nil
}

// Run probes on the configured interval until ctx is cancelled, fanning
// out state changes to subscribers.
func (p *ProbeMonitor) Run(ctx context.Context) error {
	slog.Info("connectivity monitor running", "url", p.url, "interval", p.interval)
	p.probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("connectivity monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *ProbeMonitor) probe(ctx context.Context) {
	state, err := p.Fetch(ctx)
	if err != nil {
		return
	}

	p.mu.Lock()
	changed := !p.known || state.Connected != p.last.Connected
	p.last = state
	p.known = true
	var fns []func(types.ConnectivityState)
	if changed {
		fns = make([]func(types.ConnectivityState), 0, len(p.subs))
		for _, fn := range p.subs {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("connectivity changed", "connected", state.Connected)
	for _, fn := range fns {
		fn(state)
	}
}

// ManualConnectivity is a ConnectivitySource driven by explicit Set calls,
// for tests and the simulator.
type ManualConnectivity struct {
	mu    sync.Mutex
	state types.ConnectivityState
	next  int
	subs  map[int]func(types.ConnectivityState)
}

func NewManualConnectivity(initial types.ConnectivityState) *ManualConnectivity {
	return &ManualConnectivity{
		state: initial,
		subs:  make(map[int]func(types.ConnectivityState)),
	}
}

// Subscribe registers fn for subsequent Set calls.
func (c *ManualConnectivity) Subscribe(fn func(types.ConnectivityState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle := c.next
	c.next++
	c.subs[handle] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, handle)
	}
}

func (c *ManualConnectivity) Fetch(ctx context.Context) (types.ConnectivityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

// Set records the new state and fans it out to every subscriber.
func (c *ManualConnectivity) Set(state types.ConnectivityState) {
	c.mu.Lock()
	c.state = state
	fns := make([]func(types.ConnectivityState), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
