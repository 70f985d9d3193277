package infra

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(failures, successes int) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          time.Second,
	})
	cb.now = clk.now
	return cb, clk
}

func TestCircuitBreaker_AllowInClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if !cb.Allow() {
		t.Error("Expected Allow() to return true in CLOSED state")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state CLOSED, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb, clk := newTestBreaker(3, 2)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("Should still be CLOSED after 2 failures")
	}
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("Expected OPEN after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to return false in OPEN state")
	}

	clk.advance(1500 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("Expected Allow() after timeout (half-open)")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("Expected HALF_OPEN, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	if cb.GetState() != StateHalfOpen {
		t.Error("Should still be HALF_OPEN after 1 success")
	}
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected CLOSED after 2 successes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(1, 1)
	cb.RecordFailure()
	clk.advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("Expected OPEN, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("timeout must restart when the probe fails")
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb, _ := newTestBreaker(1, 1)
	boom := errors.New("boom")

	if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Execute returned %v, want boom", err)
	}
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Execute on open breaker = %v (called=%v)", err, called)
	}

	cb.Reset()
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}
