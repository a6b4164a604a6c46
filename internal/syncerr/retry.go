package syncerr

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls the backoff between retry attempts.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	Multiplier float64       `json:"multiplier"`
	MaxDelay   time.Duration `json:"max_delay"`
	Jitter     bool          `json:"jitter"`
}

// DefaultRetryConfig returns the standard policy: three retries at
// 1s/2s/4s, capped at 30s, with jitter enabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Delay computes the wait before retry attempt n (1-based). The raw
// delay grows geometrically; jitter adds up to 10% of the base delay so
// simultaneous retries spread out, and the sum is capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.Jitter {
		d += rand.Float64() * 0.1 * float64(c.BaseDelay)
	}
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
