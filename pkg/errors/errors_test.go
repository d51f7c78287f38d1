package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeDaemon, "get_block_template", "daemon unreachable")

	if err.Type != ErrorTypeDaemon {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeDaemon)
	}
	if err.Operation != "get_block_template" {
		t.Errorf("Operation = %q", err.Operation)
	}
	if !err.IsRetryable() {
		t.Error("daemon errors should default to retryable")
	}
}

func TestNewNonRetryableTypes(t *testing.T) {
	for _, typ := range []ErrorType{ErrorTypeValidation, ErrorTypeShare, ErrorTypeProtocol, ErrorTypeInternal} {
		if New(typ, "op", "msg").IsRetryable() {
			t.Errorf("%v errors should not be retryable", typ)
		}
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrorTypeNetwork, "dial", "failed to connect")

	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if !err.IsRetryable() {
		t.Error("connection refused should be retryable")
	}

	if Wrap(nil, ErrorTypeNetwork, "dial", "nothing") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapPreservesRetryability(t *testing.T) {
	inner := New(ErrorTypeValidation, "check", "bad data")
	outer := Wrap(inner, ErrorTypeDaemon, "call", "call failed")

	if outer.IsRetryable() {
		t.Error("wrapping must preserve the inner non-retryable verdict")
	}
}

func TestContextErrorsNotRetryable(t *testing.T) {
	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if IsRetryable(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should not be retryable")
	}
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeShare, "validate", "low difficulty")

	if !IsType(err, ErrorTypeShare) {
		t.Error("IsType failed on matching type")
	}
	if IsType(err, ErrorTypeDaemon) {
		t.Error("IsType matched wrong type")
	}
	if IsType(fmt.Errorf("plain"), ErrorTypeShare) {
		t.Error("IsType matched plain error")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrorTypeBus, "publish", "kafka down").
		WithContext("topic", "pool.shares").
		WithContext("attempt", 3)

	ctx := GetContext(err)
	if ctx["topic"] != "pool.shares" {
		t.Errorf("context topic = %v", ctx["topic"])
	}
	if ctx["attempt"] != 3 {
		t.Errorf("context attempt = %v", ctx["attempt"])
	}

	if GetContext(fmt.Errorf("plain")) != nil {
		t.Error("plain errors should have no context")
	}
}
