package syncerr

import "context"

// Fallback is a recovery mechanism evaluated after retries are exhausted.
// Mechanisms run in descending Priority order; Condition gates whether a
// mechanism applies to a given failure, and a Run that returns nil
// suppresses the original error.
type Fallback struct {
	Name      string
	Priority  int
	Condition func(*SyncError) bool
	Run       func(ctx context.Context) error
}
