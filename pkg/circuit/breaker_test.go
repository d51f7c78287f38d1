package circuit

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func fastConfig() *Config {
	return &Config{
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         50 * time.Millisecond,
		ResetTimeout:    time.Second,
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	cb := New(fastConfig())
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed", cb.GetState())
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			return fmt.Errorf("boom")
		})
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.GetState())
	}

	err := cb.Execute(ctx, func() error { return nil })
	if err == nil {
		t.Error("open breaker allowed a request")
	}
}

func TestBreakerRecovers(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			return fmt.Errorf("boom")
		})
	}

	time.Sleep(60 * time.Millisecond)

	// Half-open: successes close the circuit again
	for i := 0; i < 2; i++ {
		if err := cb.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("half-open request %d failed: %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after recovery", cb.GetState())
	}
}

func TestBreakerReopensFromHalfOpen(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			return fmt.Errorf("boom")
		})
	}

	time.Sleep(60 * time.Millisecond)

	_ = cb.Execute(ctx, func() error {
		return fmt.Errorf("still broken")
	})

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want open after half-open failure", cb.GetState())
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := New(fastConfig())

	got, err := ExecuteWithResult(context.Background(), cb, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestReset(t *testing.T) {
	cb := New(fastConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error {
			return fmt.Errorf("boom")
		})
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want closed after reset", cb.GetState())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String(%d) = %q, want %q", tt.state, got, tt.want)
		}
	}
}
