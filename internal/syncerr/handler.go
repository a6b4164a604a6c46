// internal/syncerr/handler.go
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

const (
	historyCap     = 100
	healthWindow   = 5 * time.Minute
	healthMaxCount = 3
)

// Stats aggregates recorded failures. Recomputed incrementally on each
// recorded SyncError, never scanned from history.
type Stats struct {
	Total          int               `json:"total"`
	ByType         map[ErrorType]int `json:"by_type"`
	ByOperation    map[string]int    `json:"by_operation"`
	RetrySuccesses int               `json:"retry_successes"`
	RetryFailures  int               `json:"retry_failures"`
	AvgRetryCount  float64           `json:"avg_retry_count"`
	LastErrorAt    time.Time         `json:"last_error_at"`
}

// Handler classifies failures, applies the retry and fallback policies,
// and keeps bounded history plus aggregate stats. Safe for concurrent use.
type Handler struct {
	bus   *bus.Bus
	retry RetryConfig

	mu              sync.Mutex
	history         []*SyncError
	stats           Stats
	fallbacks       []Fallback
	retriesInFlight int
}

// New builds a Handler publishing error events on b. Zero-valued fields
// of cfg fall back to the defaults.
func New(b *bus.Bus, cfg RetryConfig) *Handler {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Handler{
		bus:   b,
		retry: cfg,
		stats: Stats{
			ByType:      make(map[ErrorType]int),
			ByOperation: make(map[string]int),
		},
	}
}

// ExecuteWithRetry runs op under the handler's default retry policy. See
// ExecuteWithRetryConfig.
func (h *Handler) ExecuteWithRetry(ctx context.Context, name string, op func(context.Context) error) error {
	return h.ExecuteWithRetryConfig(ctx, name, op, h.retry, nil)
}

// ExecuteWithRetryConfig runs op, retrying retryable failures with
// exponential backoff, up to cfg.MaxRetries+1 invocations in total.
// Non-retryable failures stop the loop immediately. On terminal failure
// the last error is classified, recorded, and returned as a *SyncError;
// extra is attached to the record as contextual metadata. Cancellation
// during backoff returns ctx's error unrecorded.
func (h *Handler) ExecuteWithRetryConfig(ctx context.Context, name string, op func(context.Context) error, cfg RetryConfig, extra map[string]any) error {
	h.mu.Lock()
	h.retriesInFlight++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.retriesInFlight--
		h.mu.Unlock()
	}()

	var last error
	attempts := 0
	for {
		err := op(ctx)
		attempts++
		if err == nil {
			if attempts > 1 {
				h.mu.Lock()
				h.stats.RetrySuccesses++
				h.mu.Unlock()
				slog.Info("operation recovered", "operation", name, "attempts", attempts)
			}
			return nil
		}
		last = err
		if !IsRetryable(ClassifyType(err)) {
			slog.Warn("non-retryable failure, skipping remaining attempts", "operation", name, "error", err)
			break
		}
		if attempts > cfg.MaxRetries {
			break
		}
		delay := cfg.Delay(attempts)
		slog.Warn("operation failed, retrying",
			"operation", name,
			"attempt", attempts,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", name, serr)
		}
	}

	h.mu.Lock()
	h.stats.RetryFailures++
	h.mu.Unlock()

	se := Classify(last, name, attempts-1, extra)
	h.Record(se)
	return se
}

// ExecuteWithFallback runs op under the retry policy; on terminal failure
// it walks registered fallbacks in descending priority, running each whose
// condition holds, until one succeeds. If none does, the original failure
// is returned.
func (h *Handler) ExecuteWithFallback(ctx context.Context, name string, op func(context.Context) error) error {
	err := h.ExecuteWithRetry(ctx, name, op)
	if err == nil {
		return nil
	}
	var se *SyncError
	if !errors.As(err, &se) {
		return err
	}

	h.mu.Lock()
	mechanisms := make([]Fallback, len(h.fallbacks))
	copy(mechanisms, h.fallbacks)
	h.mu.Unlock()

	for _, fb := range mechanisms {
		if fb.Condition != nil && !fb.Condition(se) {
			continue
		}
		slog.Info("attempting fallback", "operation", name, "fallback", fb.Name)
		ferr := fb.Run(ctx)
		if ferr == nil {
			slog.Info("fallback succeeded", "operation", name, "fallback", fb.Name)
			return nil
		}
		slog.Warn("fallback failed", "operation", name, "fallback", fb.Name, "error", ferr)
	}
	return err
}

// RegisterFallback adds a recovery mechanism. The list stays sorted by
// descending priority; ties keep registration order.
func (h *Handler) RegisterFallback(fb Fallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fallbacks = append(h.fallbacks, fb)
	sort.SliceStable(h.fallbacks, func(i, j int) bool {
		return h.fallbacks[i].Priority > h.fallbacks[j].Priority
	})
}

// Record appends se to the bounded history, updates aggregate stats, emits
// exactly one sync_error event with the user-facing notice, and performs
// synchronous recovery when the strategy calls for it.
func (h *Handler) Record(se *SyncError) {
	h.mu.Lock()
	if len(h.history) >= historyCap {
		h.history = h.history[1:]
	}
	h.history = append(h.history, se)

	h.stats.Total++
	h.stats.ByType[se.Type]++
	h.stats.ByOperation[se.Operation]++
	h.stats.AvgRetryCount += (float64(se.RetryCount) - h.stats.AvgRetryCount) / float64(h.stats.Total)
	h.stats.LastErrorAt = se.At
	h.mu.Unlock()

	slog.Error("sync failure recorded",
		"operation", se.Operation,
		"type", se.Type,
		"strategy", se.Strategy,
		"retries", se.RetryCount,
		"error", se.Message)

	h.bus.EmitFrom(types.EventSyncError, se.Notice(), "syncerr")

	if se.Strategy == StrategyManualRefresh {
		h.bus.EmitFrom(types.EventSyncRefreshRequired, types.SyncRefreshRequest{
			Reason: string(se.Type),
		}, "syncerr")
	}
}

// RecordFailure classifies and records a raw failure outside a retry loop.
func (h *Handler) RecordFailure(err error, operation string, extra map[string]any) *SyncError {
	se := Classify(err, operation, 0, extra)
	h.Record(se)
	return se
}

// UserFriendlyError returns the short actionable message for err. A
// *SyncError anywhere in the chain keeps its prepared message; anything
// else is classified on the spot.
func (h *Handler) UserFriendlyError(err error) string {
	if err == nil {
		return ""
	}
	var se *SyncError
	if errors.As(err, &se) {
		return se.UserMessage
	}
	return UserMessageFor(ClassifyType(err))
}

// Healthy reports whether the handler has seen fewer than 3 errors in the
// last 5 minutes and has no retry in flight.
func (h *Handler) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retriesInFlight > 0 {
		return false
	}
	cutoff := time.Now().Add(-healthWindow)
	recent := 0
	for i := len(h.history) - 1; i >= 0; i-- {
		if h.history[i].At.Before(cutoff) {
			break
		}
		recent++
		if recent >= healthMaxCount {
			return false
		}
	}
	return true
}

// ErrorStats returns a copy of the aggregate counters.
func (h *Handler) ErrorStats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.stats
	out.ByType = make(map[ErrorType]int, len(h.stats.ByType))
	for k, v := range h.stats.ByType {
		out.ByType[k] = v
	}
	out.ByOperation = make(map[string]int, len(h.stats.ByOperation))
	for k, v := range h.stats.ByOperation {
		out.ByOperation[k] = v
	}
	return out
}

// History returns the recorded errors, oldest first.
func (h *Handler) History() []*SyncError {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*SyncError, len(h.history))
	copy(out, h.history)
	return out
}

// ClearHistory drops all recorded errors and resets stats. Used by tests
// and full teardown.
func (h *Handler) ClearHistory() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
	h.stats = Stats{
		ByType:      make(map[ErrorType]int),
		ByOperation: make(map[string]int),
	}
}
