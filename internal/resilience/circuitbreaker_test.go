package resilience

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

var errProbe = errors.New("device offline")

func quietBreaker(cfg Config) *CircuitBreaker {
	cfg.Log = slog.New(slog.DiscardHandler)
	return New(cfg)
}

func fail(cb *CircuitBreaker, t *testing.T) {
	t.Helper()
	if err := cb.Execute(func() error { return errProbe }); !errors.Is(err, errProbe) {
		t.Fatalf("Execute = %v, want %v", err, errProbe)
	}
}

func succeed(cb *CircuitBreaker, t *testing.T) {
	t.Helper()
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute = %v, want nil", err)
	}
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 3})
	fail(cb, t)
	fail(cb, t)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after 2/3 failures = %v, want closed", got)
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 3, ResetTimeout: time.Hour})
	for i := 0; i < 3; i++ {
		fail(cb, t)
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute while open = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn ran while the circuit was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 2})
	fail(cb, t)
	succeed(cb, t)
	fail(cb, t)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerHalfOpenClosesOnProbeSuccesses(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 2})
	fail(cb, t)
	time.Sleep(20 * time.Millisecond)

	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", got)
	}

	succeed(cb, t)
	succeed(cb, t)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after successful probes = %v, want closed", got)
	}
	succeed(cb, t)
}

func TestBreakerHalfOpenReopensOnProbeFailure(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMax: 3})
	fail(cb, t)
	time.Sleep(20 * time.Millisecond)

	fail(cb, t)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Execute after failed probe = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	cb := quietBreaker(Config{MaxFailures: 1, ResetTimeout: time.Hour})
	fail(cb, t)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after Reset = %v, want closed", got)
	}
	succeed(cb, t)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
