package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllowConsumesBurst(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 3})
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("call %d rejected within burst", i)
		}
	}
	if l.Allow() {
		t.Fatal("call beyond burst allowed")
	}
}

func TestLimiterRefills(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(LimiterOpts{Rate: 2, Burst: 2})
	l.now = func() time.Time { return now }

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("bucket should be empty")
	}

	now = now.Add(time.Second) // 2 tokens refilled
	if !l.Allow() || !l.Allow() {
		t.Fatal("refilled tokens not available")
	}
	if l.Allow() {
		t.Fatal("refill exceeded burst")
	}
}

func TestLimiterWaitCancellation(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: 10 * time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ctx := context.Background()

	if err := b.Call(ctx, fail); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatal("breaker opened before threshold")
	}
	b.Call(ctx, fail)
	if b.State() != StateOpen {
		t.Fatal("breaker did not open at threshold")
	}

	if err := b.Call(ctx, fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker returned %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 5 * time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }

	ctx := context.Background()
	b.Call(ctx, func(context.Context) error { return errors.New("boom") })
	if b.State() != StateOpen {
		t.Fatal("breaker not open")
	}

	now = now.Add(6 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatal("breaker not half-open after timeout")
	}

	if err := b.Call(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatal("successful probe did not close breaker")
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: 5 * time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }

	ctx := context.Background()
	b.Call(ctx, func(context.Context) error { return errors.New("boom") })
	now = now.Add(6 * time.Second)

	b.Call(ctx, func(context.Context) error { return errors.New("still down") })
	if b.State() != StateOpen {
		t.Fatal("failed probe did not reopen breaker")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
