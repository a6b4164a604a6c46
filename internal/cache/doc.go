// Package cache provides the local location store: an in-memory cache
// with an optional JSON snapshot on disk, and a JSONL-backed append-only
// per-user history log.
package cache

import "github.com/Keeganp1988/GeoGuardian-sub003/internal/types"

// Compile-time interface compliance checks.
var _ types.LocationCache = (*Cache)(nil)
