// internal/types/interfaces.go
package types

import "context"

// RealtimeClient is the narrow contract to the remote live-data service.
// Subscribe registers onUpdate for a user's live feed and returns a release
// function that must be invoked exactly once; onUpdate may fire any number of
// times, asynchronously, with nil signalling deletion. Publish and ForceSync
// are the opaque write and bulk-read primitives.
type RealtimeClient interface {
	Subscribe(key UserID, onUpdate func(*LocationUpdate)) (func(), error)
	Publish(ctx context.Context, update *LocationUpdate) error
	ForceSync(ctx context.Context) error
}

// ConnectionSyncer forces a full reconciliation pass against the remote
// service. Satisfied by RealtimeClient implementations.
type ConnectionSyncer interface {
	ForceSync(ctx context.Context) error
}

// ConnectivitySource emits connectivity transitions and supports a one-shot
// probe. Subscribe returns a release function.
type ConnectivitySource interface {
	Subscribe(fn func(ConnectivityState)) func()
	Fetch(ctx context.Context) (ConnectivityState, error)
}

// LifecycleSource emits application lifecycle transitions.
type LifecycleSource interface {
	Subscribe(fn func(AppState)) func()
	Current() AppState
}

// RefreshFunc re-derives the authoritative value for a cache key.
type RefreshFunc func(ctx context.Context, id UserID) (*LocationUpdate, error)

// LocationCache is the local cache collaborator. Invalidation optionally
// re-populates the entry through a refresh function.
type LocationCache interface {
	Get(id UserID) (*LocationUpdate, bool)
	Set(id UserID, update *LocationUpdate)
	Len() int
	InvalidateWithRefresh(ctx context.Context, id UserID, refresh RefreshFunc) error
	BatchInvalidateWithRefresh(ctx context.Context, ids []UserID, refresh RefreshFunc) error
}

// DeviceSampler produces the device's own state for publication.
type DeviceSampler interface {
	Sample(ctx context.Context) (*DeviceState, error)
}
