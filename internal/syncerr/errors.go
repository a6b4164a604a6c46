// Package syncerr classifies sync failures against a fixed taxonomy and
// drives recovery: retry with exponential backoff, prioritized fallbacks,
// bounded error history, and aggregate statistics for health assessment.
package syncerr

import (
	"fmt"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// ErrorType is one entry of the failure taxonomy.
type ErrorType string

const (
	TypeNetworkUnavailable      ErrorType = "network_unavailable"
	TypePermissionDenied        ErrorType = "permission_denied"
	TypeRateLimited             ErrorType = "rate_limited"
	TypeServiceUnavailable      ErrorType = "service_unavailable"
	TypeTimeout                 ErrorType = "timeout"
	TypeSubscriptionFailed      ErrorType = "subscription_failed"
	TypeCacheInvalidationFailed ErrorType = "cache_invalidation_failed"
	TypeConnectionSyncFailed    ErrorType = "connection_sync_failed"
	TypeUnknown                 ErrorType = "unknown"
)

// Strategy is the recovery policy assigned to a taxonomy entry.
type Strategy string

const (
	StrategyRetryBackoff  Strategy = "retry_with_backoff"
	StrategyFallbackCache Strategy = "fallback_to_cache"
	StrategyManualRefresh Strategy = "manual_refresh"
	StrategySkip          Strategy = "skip"
	StrategyEscalate      Strategy = "escalate_to_user"
)

// SyncError is a classified failure. Instances are immutable once recorded.
type SyncError struct {
	Type        ErrorType      `json:"type"`
	Operation   string         `json:"operation"`
	Message     string         `json:"message"`
	Cause       error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	At          time.Time      `json:"at"`
	RetryCount  int            `json:"retry_count"`
	Strategy    Strategy       `json:"strategy"`
	Retryable   bool           `json:"retryable"`
	UserMessage string         `json:"user_message"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Notice projects the error into its user-facing event payload.
func (e *SyncError) Notice() types.ErrorNotice {
	return types.ErrorNotice{
		Operation:   e.Operation,
		Type:        string(e.Type),
		UserMessage: e.UserMessage,
		Actions:     SuggestedActions(e.Type),
		Retryable:   e.Retryable,
		At:          e.At,
	}
}
