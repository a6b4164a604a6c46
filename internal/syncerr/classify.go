package syncerr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// classifyRule maps message fragments to a taxonomy entry. Matching is
// case-insensitive substring, first match wins; order matters.
type classifyRule struct {
	errType   ErrorType
	fragments []string
}

var classifyRules = []classifyRule{
	{TypeNetworkUnavailable, []string{"network", "offline", "no internet", "connection refused", "connection reset", "unreachable", "dns"}},
	{TypePermissionDenied, []string{"permission", "denied", "unauthorized", "forbidden", "401", "403"}},
	{TypeRateLimited, []string{"rate limit", "too many requests", "quota", "429"}},
	{TypeTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{TypeServiceUnavailable, []string{"service unavailable", "unavailable", "internal server", "500", "503"}},
	{TypeCacheInvalidationFailed, []string{"cache"}},
	{TypeConnectionSyncFailed, []string{"connection sync", "force sync", "sync failed"}},
	{TypeSubscriptionFailed, []string{"subscription", "subscribe"}},
}

// strategies assigns the fixed recovery policy per taxonomy entry.
var strategies = map[ErrorType]Strategy{
	TypeNetworkUnavailable:      StrategyRetryBackoff,
	TypePermissionDenied:        StrategyEscalate,
	TypeRateLimited:             StrategyRetryBackoff,
	TypeServiceUnavailable:      StrategyFallbackCache,
	TypeTimeout:                 StrategyRetryBackoff,
	TypeSubscriptionFailed:      StrategyManualRefresh,
	TypeCacheInvalidationFailed: StrategySkip,
	TypeConnectionSyncFailed:    StrategyManualRefresh,
	TypeUnknown:                 StrategyRetryBackoff,
}

// userMessages is the short, actionable wording surfaced for each entry.
// Raw internal error strings are never shown to the user.
var userMessages = map[ErrorType]string{
	TypeNetworkUnavailable:      "No internet connection. Your circle will update when you're back online.",
	TypePermissionDenied:        "GeoGuardian doesn't have the permissions it needs. Check your settings.",
	TypeRateLimited:             "Updating too quickly. We'll retry in a moment.",
	TypeServiceUnavailable:      "The location service is temporarily unavailable. Showing last known positions.",
	TypeTimeout:                 "The request took too long. We'll keep trying.",
	TypeSubscriptionFailed:      "Couldn't follow a circle member's location. Pull to refresh.",
	TypeCacheInvalidationFailed: "Couldn't refresh saved locations.",
	TypeConnectionSyncFailed:    "Couldn't sync your circle. Pull to refresh.",
	TypeUnknown:                 "Something went wrong. Please try again.",
}

// suggestedActions lists the concrete recovery steps offered per entry.
var suggestedActions = map[ErrorType][]types.RecoveryAction{
	TypeNetworkUnavailable:      {types.ActionRetry, types.ActionCheckConnection},
	TypePermissionDenied:        {types.ActionOpenSettings},
	TypeRateLimited:             {types.ActionRetry},
	TypeServiceUnavailable:      {types.ActionRetry},
	TypeTimeout:                 {types.ActionRetry, types.ActionCheckConnection},
	TypeSubscriptionFailed:      {types.ActionRefresh, types.ActionRetry},
	TypeCacheInvalidationFailed: {types.ActionRefresh},
	TypeConnectionSyncFailed:    {types.ActionRefresh, types.ActionRetry},
	TypeUnknown:                 {types.ActionRetry},
}

// ClassifyType maps a raw failure to its taxonomy entry. Context deadline
// and cancellation errors short-circuit to timeout; everything else goes
// through the rule table against the lowercased message.
func ClassifyType(err error) ErrorType {
	if err == nil {
		return TypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TypeTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return rule.errType
			}
		}
	}
	return TypeUnknown
}

// IsRetryable reports whether the taxonomy entry may be retried. Only
// permission denied is terminal.
func IsRetryable(t ErrorType) bool {
	return t != TypePermissionDenied
}

// StrategyFor returns the fixed recovery strategy for the taxonomy entry.
func StrategyFor(t ErrorType) Strategy {
	if s, ok := strategies[t]; ok {
		return s
	}
	return StrategyRetryBackoff
}

// UserMessageFor returns the user-facing wording for the taxonomy entry.
func UserMessageFor(t ErrorType) string {
	if m, ok := userMessages[t]; ok {
		return m
	}
	return userMessages[TypeUnknown]
}

// SuggestedActions returns the recovery actions offered for the entry.
func SuggestedActions(t ErrorType) []types.RecoveryAction {
	if a, ok := suggestedActions[t]; ok {
		return a
	}
	return suggestedActions[TypeUnknown]
}

// Classify builds a full SyncError for a raw failure without recording it.
func Classify(err error, operation string, retryCount int, extra map[string]any) *SyncError {
	t := ClassifyType(err)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{
		Type:        t,
		Operation:   operation,
		Message:     msg,
		Cause:       err,
		Context:     extra,
		At:          time.Now(),
		RetryCount:  retryCount,
		Strategy:    StrategyFor(t),
		Retryable:   IsRetryable(t),
		UserMessage: UserMessageFor(t),
	}
}
