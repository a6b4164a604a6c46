// internal/recovery/handlers.go
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/subscription"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Handler processes one queued operation. A nil return removes the
// operation from the queue; an error burns one retry.
type Handler func(ctx context.Context, op Operation) error

func defaultHandlers(m *Manager) map[Kind]Handler {
	return map[Kind]Handler{
		KindSync:                m.handleForceSync,
		KindConnectionSync:      m.handleForceSync,
		KindSubscriptionRefresh: m.handleRefresh,
	}
}

// handleForceSync runs the remote bulk reconciliation, retried through
// the error handler and timed under the network category.
func (m *Manager) handleForceSync(ctx context.Context, op Operation) error {
	m.bus.EmitFrom(types.EventSyncLoading, types.SyncStatus{Operation: "force_sync"}, "recovery")
	tid := types.NewTimingID()
	m.gov.StartTiming(tid, perf.CategoryNetwork)
	start := time.Now()

	err := m.errs.ExecuteWithRetry(ctx, "force_sync", func(ctx context.Context) error {
		return m.syncer.ForceSync(ctx)
	})
	if err != nil {
		m.gov.EndTiming(tid, false, err.Error())
		return err
	}
	m.gov.EndTiming(tid, true, "")
	m.bus.EmitFrom(types.EventSyncSuccess, types.SyncStatus{
		Operation: "force_sync",
		Duration:  time.Since(start),
	}, "recovery")
	return nil
}

// handleRefresh forces a full subscription rebuild. A refresh already in
// flight counts as success; the work is being done either way.
func (m *Manager) handleRefresh(ctx context.Context, op Operation) error {
	err := m.refresher.RefreshAll(ctx, true)
	if errors.Is(err, subscription.ErrRefreshInFlight) {
		return nil
	}
	return err
}
