package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		if err := cb.Call(failing); err == nil {
			t.Fatal("expected failure")
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state after 3 failures, got %v", cb.GetState())
	}

	// Open circuit rejects without invoking fn
	calls := 0
	err := cb.Call(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Error("open circuit should not invoke the function")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)

	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })

	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %v", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	// Enough successes in half-open close the circuit
	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("half-open call %d failed: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after recovery, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	cb.Call(func() error { return errors.New("boom") })
	cb.Call(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	cb.Call(func() error { return errors.New("still broken") })
	if cb.GetState() != StateOpen {
		t.Errorf("expected reopened circuit, got %v", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Minute)
	cb.Call(func() error { return errors.New("boom") })
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open state, got %v", cb.GetState())
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("expected closed state after reset, got %v", cb.GetState())
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("call after reset failed: %v", err)
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, time.Minute)
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })

	_, requests, failures, rate := cb.GetStats()
	if requests != 2 || failures != 1 {
		t.Errorf("expected 2 requests and 1 failure, got %d and %d", requests, failures)
	}
	if rate != 50.0 {
		t.Errorf("expected 50%% failure rate, got %v", rate)
	}
}

func TestReconnect_EventualSuccess(t *testing.T) {
	calls := 0
	cfg := &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: 5 * time.Millisecond}

	err := Reconnect(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, cfg, zerolog.Nop())

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestReconnect_ExhaustsAttempts(t *testing.T) {
	cfg := &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 2.0, MaxBackoff: 5 * time.Millisecond}

	err := Reconnect(context.Background(), func() error {
		return errors.New("connection refused")
	}, cfg, zerolog.Nop())

	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reconnect(ctx, func() error {
		return errors.New("connection refused")
	}, nil, zerolog.Nop())

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
