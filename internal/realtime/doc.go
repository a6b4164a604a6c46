// Package realtime provides in-process implementations of the realtime
// service contract: an in-memory client with per-key fan-out and failure
// injection, and a simulator that drives synthetic circle movement
// through it.
package realtime

import "github.com/Keeganp1988/GeoGuardian-sub003/internal/types"

// Compile-time interface compliance checks.
var _ types.RealtimeClient = (*MemoryClient)(nil)
