package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	cnerrors "github.com/bardlex/cnpool/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestBlockSubmitConfig(t *testing.T) {
	cfg := BlockSubmitConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 500*time.Millisecond {
		t.Errorf("MaxDelay = %v, want 500ms", cfg.MaxDelay)
	}
	if cfg.Jitter {
		t.Error("block submission must not jitter")
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		if calls < 3 {
			return cnerrors.New(cnerrors.ErrorTypeNetwork, "dial", "connection refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return cnerrors.New(cnerrors.ErrorTypeValidation, "check", "bad input")
	})

	if err == nil {
		t.Fatal("Do() succeeded, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return cnerrors.New(cnerrors.ErrorTypeNetwork, "dial", "timeout")
	})

	if err == nil {
		t.Fatal("Do() succeeded, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Second,
		Multiplier:  1.0,
	}

	err := Do(ctx, cfg, func() error {
		return cnerrors.New(cnerrors.ErrorTypeNetwork, "dial", "timeout")
	})

	if err != context.Canceled {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", cnerrors.New(cnerrors.ErrorTypeNetwork, "fetch", "timeout")
		}
		return "template", nil
	})

	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if got != "template" {
		t.Errorf("result = %q, want template", got)
	}

	_, err = DoWithResult(context.Background(), fastConfig(2), func() (int, error) {
		return 0, fmt.Errorf("plain failure")
	})
	if err == nil {
		t.Error("DoWithResult() succeeded, want error")
	}
}

func TestCalculateDelayCaps(t *testing.T) {
	cfg := &Config{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2.0,
		Jitter:      false,
	}

	if d := cfg.calculateDelay(0); d != 100*time.Millisecond {
		t.Errorf("delay(0) = %v, want 100ms", d)
	}
	if d := cfg.calculateDelay(10); d != time.Second {
		t.Errorf("delay(10) = %v, want capped 1s", d)
	}
}
