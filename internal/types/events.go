// internal/types/events.go
package types

import "time"

// EventName identifies one entry of the closed event vocabulary. The set is
// versioned and grows additively only; consumers must tolerate names they do
// not know.
type EventName string

const (
	EventConnectionAdded     EventName = "connection_added"
	EventConnectionRemoved   EventName = "connection_removed"
	EventConnectionUpdated   EventName = "connection_updated"
	EventSyncRefreshRequired EventName = "sync_refresh_required"
	EventCacheInvalidated    EventName = "cache_invalidated"
	EventNetworkChanged      EventName = "network_changed"
	EventAppStateChanged     EventName = "app_state_changed"
	EventSyncLoading         EventName = "sync_loading"
	EventSyncSuccess         EventName = "sync_success"
	EventSyncError           EventName = "sync_error"
	EventPerformanceMetric   EventName = "performance_metric"
)

// Event is a single emission on the bus. Events are immutable once emitted
// and are not persisted; the payload shape is fixed per name.
type Event struct {
	Name    EventName `json:"name"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
	Source  string    `json:"source,omitempty"`
}

// ConnectionEvent is the payload for connection_added/removed/updated.
// Update is nil for connection_removed.
type ConnectionEvent struct {
	UserID UserID          `json:"user_id"`
	Update *LocationUpdate `json:"update,omitempty"`
}

// SyncRefreshRequest is the payload for sync_refresh_required. An empty
// UserIDs slice requests a full refresh.
type SyncRefreshRequest struct {
	Reason  string   `json:"reason"`
	UserIDs []UserID `json:"user_ids,omitempty"`
}

// CacheInvalidation is the payload for cache_invalidated.
type CacheInvalidation struct {
	Keys      []UserID `json:"keys"`
	Refreshed bool     `json:"refreshed"`
}

// AppStateChange is the payload for app_state_changed.
type AppStateChange struct {
	Previous AppState `json:"previous"`
	Current  AppState `json:"current"`
}

// SyncStatus is the payload for sync_loading and sync_success.
type SyncStatus struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// RecoveryAction is a concrete step suggested to the user alongside an error.
type RecoveryAction string

const (
	ActionRetry           RecoveryAction = "retry"
	ActionRefresh         RecoveryAction = "refresh"
	ActionCheckConnection RecoveryAction = "check_connection"
	ActionOpenSettings    RecoveryAction = "open_settings"
)

// ErrorNotice is the payload for sync_error: the user-facing projection of a
// classified failure, never the raw internal error string.
type ErrorNotice struct {
	Operation   string           `json:"operation"`
	Type        string           `json:"type"`
	UserMessage string           `json:"user_message"`
	Actions     []RecoveryAction `json:"actions"`
	Retryable   bool             `json:"retryable"`
	At          time.Time        `json:"at"`
}

// PerformanceMetric is the payload for performance_metric, emitted once per
// completed timing.
type PerformanceMetric struct {
	ID       TimingID      `json:"id"`
	Category string        `json:"category"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
}
