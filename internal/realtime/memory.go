// internal/realtime/memory.go
package realtime

import (
	"context"
	"sync"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// MemoryClient is an in-memory realtime service. Publish stores the
// update as the key's latest value and fans it out to subscribers;
// ForceSync re-delivers every latest value. Failure injection covers the
// subscribe, publish, and force-sync paths.
type MemoryClient struct {
	mu           sync.Mutex
	nextHandle   int
	subs         map[types.UserID]map[int]func(*types.LocationUpdate)
	last         map[types.UserID]*types.LocationUpdate
	subscribeErr map[types.UserID]error
	publishErr   error
	forceSyncErr error

	subscribes   int
	unsubscribes int
	forceSyncs   int
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		subs:         make(map[types.UserID]map[int]func(*types.LocationUpdate)),
		last:         make(map[types.UserID]*types.LocationUpdate),
		subscribeErr: make(map[types.UserID]error),
	}
}

// Subscribe registers onUpdate for key's feed. The release function may
// be called more than once; only the first call detaches the handler.
func (c *MemoryClient) Subscribe(key types.UserID, onUpdate func(*types.LocationUpdate)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	if err := c.subscribeErr[key]; err != nil {
		return nil, err
	}

	c.nextHandle++
	handle := c.nextHandle
	if c.subs[key] == nil {
		c.subs[key] = make(map[int]func(*types.LocationUpdate))
	}
	c.subs[key][handle] = onUpdate

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if handlers, ok := c.subs[key]; ok {
			if _, live := handlers[handle]; live {
				delete(handlers, handle)
				c.unsubscribes++
				if len(handlers) == 0 {
					delete(c.subs, key)
				}
			}
		}
	}, nil
}

// Publish stores update as the latest value for its user and fans it out.
// Handlers run outside the client lock.
func (c *MemoryClient) Publish(_ context.Context, update *types.LocationUpdate) error {
	c.mu.Lock()
	if err := c.publishErr; err != nil {
		c.mu.Unlock()
		return err
	}
	c.last[update.UserID] = update
	handlers := c.snapshotLocked(update.UserID)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(update)
	}
	return nil
}

// Delete removes the latest value for id and fans out a nil tombstone.
func (c *MemoryClient) Delete(id types.UserID) {
	c.mu.Lock()
	delete(c.last, id)
	handlers := c.snapshotLocked(id)
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(nil)
	}
}

// ForceSync re-delivers the latest value of every subscribed key.
func (c *MemoryClient) ForceSync(_ context.Context) error {
	c.mu.Lock()
	c.forceSyncs++
	if err := c.forceSyncErr; err != nil {
		c.mu.Unlock()
		return err
	}
	type delivery struct {
		fn     func(*types.LocationUpdate)
		update *types.LocationUpdate
	}
	var deliveries []delivery
	for key := range c.subs {
		update, ok := c.last[key]
		if !ok {
			continue
		}
		for _, fn := range c.snapshotLocked(key) {
			deliveries = append(deliveries, delivery{fn: fn, update: update})
		}
	}
	c.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.update)
	}
	return nil
}

// snapshotLocked copies key's handlers. Caller must hold c.mu.
func (c *MemoryClient) snapshotLocked(key types.UserID) []func(*types.LocationUpdate) {
	handlers := c.subs[key]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]func(*types.LocationUpdate), 0, len(handlers))
	for _, fn := range handlers {
		out = append(out, fn)
	}
	return out
}

// FailSubscribe injects err for future Subscribe(key) calls; nil clears.
func (c *MemoryClient) FailSubscribe(key types.UserID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.subscribeErr, key)
		return
	}
	c.subscribeErr[key] = err
}

// FailPublish injects err for future Publish calls; nil clears.
func (c *MemoryClient) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// FailForceSync injects err for future ForceSync calls; nil clears.
func (c *MemoryClient) FailForceSync(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceSyncErr = err
}

// SubscriberCount reports the live handler count for key.
func (c *MemoryClient) SubscriberCount(key types.UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[key])
}

// Last returns the latest published value for id.
func (c *MemoryClient) Last(id types.UserID) (*types.LocationUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.last[id]
	return u, ok
}

// Counters for assertions: total subscribes, unsubscribes, force syncs.
func (c *MemoryClient) Counts() (subscribes, unsubscribes, forceSyncs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes, c.forceSyncs
}
