// internal/types/models.go
package types

import "time"

// LocationUpdate is one live sample for a user, as fanned out by the remote
// realtime service. A nil update on a subscription callback means the remote
// record was deleted.
type LocationUpdate struct {
	UserID    UserID    `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy_m,omitempty"`
	Speed     float64   `json:"speed_mps,omitempty"`
	Heading   float64   `json:"heading_deg,omitempty"`
	Battery   float64   `json:"battery_pct,omitempty"`
	At        time.Time `json:"at"`
}

// DeviceState is the sample produced by the device-sensor readers. Sensor
// fusion happens upstream; the coordination layer only forwards it.
type DeviceState struct {
	Location *LocationUpdate `json:"location,omitempty"`
	Moving   bool            `json:"moving"`
	Battery  float64         `json:"battery_pct"`
	At       time.Time       `json:"at"`
}

// ConnectivityState describes the device's network reachability.
type ConnectivityState struct {
	Connected bool   `json:"connected"`
	Type      string `json:"type,omitempty"`
}

// AppState is the application lifecycle state reported by the platform.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)
