package syncerr

import (
	"testing"
	"time"
)

func TestBackoffMonotonicity(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     false,
	}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, w := range want {
		if got := cfg.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffCappedAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
	}
	if got := cfg.Delay(6); got != 30*time.Second {
		t.Errorf("Delay(6) = %v, want cap of 30s", got)
	}
	if got := cfg.Delay(20); got != 30*time.Second {
		t.Errorf("Delay(20) = %v, want cap of 30s", got)
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
	for i := 0; i < 200; i++ {
		d := cfg.Delay(1)
		if d < time.Second || d >= time.Second+100*time.Millisecond {
			t.Fatalf("jittered Delay(1) = %v, want [1s, 1.1s)", d)
		}
	}
}

func TestBackoffAttemptFloor(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
	if got := cfg.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want base delay", got)
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v", cfg.BaseDelay)
	}
	if cfg.Multiplier != 2 {
		t.Errorf("Multiplier = %v", cfg.Multiplier)
	}
	if cfg.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v", cfg.MaxDelay)
	}
	if !cfg.Jitter {
		t.Error("Jitter disabled by default")
	}
}
