// internal/device/doc.go

// Package device provides the device-side collaborators of the sync
// layer: the connectivity and app-lifecycle signal sources the recovery
// queue listens to, and the publisher that feeds the device's own
// position into the pipeline. ProbeMonitor derives network reachability
// from a periodic HTTP probe; the Manual variants are driven by explicit
// calls and back tests and the simulator; WalkSampler stands in for the
// real sensor stack.
package device

import "github.com/Keeganp1988/GeoGuardian-sub003/internal/types"

var (
	_ types.ConnectivitySource = (*ProbeMonitor)(nil)
	_ types.ConnectivitySource = (*ManualConnectivity)(nil)
	_ types.LifecycleSource    = (*ManualLifecycle)(nil)
	_ types.DeviceSampler      = (*WalkSampler)(nil)
)
