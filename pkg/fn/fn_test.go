package fn

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Error("Ok result misreports state")
	}
	v, err := ok.Unwrap()
	if v != 42 || err != nil {
		t.Errorf("Unwrap = (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	bad := Err[int](boom)
	if bad.IsOk() || !bad.IsErr() {
		t.Error("Err result misreports state")
	}
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("Unwrap err = %v", err)
	}

	if _, err := Errf[int]("code %d", 7).Unwrap(); err == nil || err.Error() != "code 7" {
		t.Errorf("Errf = %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(5, nil); r.IsErr() {
		t.Error("FromPair with nil error is Err")
	}
	if r := FromPair(0, errors.New("x")); r.IsOk() {
		t.Error("FromPair with error is Ok")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	vs, err := all.Unwrap()
	if err != nil || len(vs) != 3 || vs[2] != 3 {
		t.Errorf("Collect = (%v, %v)", vs, err)
	}

	boom := errors.New("boom")
	partial := Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)})
	if _, err := partial.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("Collect err = %v", err)
	}
}

func TestThenShortCircuits(t *testing.T) {
	double := Stage[int, int](func(_ context.Context, n int) Result[int] { return Ok(n * 2) })
	boom := errors.New("boom")
	failing := Stage[int, string](func(_ context.Context, _ int) Result[string] { return Err[string](boom) })
	never := Stage[string, string](func(_ context.Context, _ string) Result[string] {
		t.Fatal("stage after failure must not run")
		return Ok("")
	})

	r := Then(double, Then(failing, never))(context.Background(), 3)
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("composed err = %v", err)
	}

	toStr := Stage[int, string](func(_ context.Context, n int) Result[string] { return Ok(fmt.Sprintf("%d", n)) })
	v, err := Then(double, toStr)(context.Background(), 21).Unwrap()
	if err != nil || v != "42" {
		t.Errorf("composed = (%q, %v)", v, err)
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	stage := TracedStage("test.stage", Stage[int, int](func(_ context.Context, n int) Result[int] {
		return Ok(n + 1)
	}))
	v, err := stage(context.Background(), 1).Unwrap()
	if err != nil || v != 2 {
		t.Errorf("traced stage = (%d, %v)", v, err)
	}

	boom := errors.New("boom")
	failing := TracedStage("test.fail", Stage[int, int](func(_ context.Context, _ int) Result[int] {
		return Err[int](boom)
	}))
	if _, err := failing(context.Background(), 0).Unwrap(); !errors.Is(err, boom) {
		t.Errorf("traced err = %v", err)
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(n int) int { return n * n })
	if len(got) != 3 || got[2] != 9 {
		t.Errorf("Map = %v", got)
	}
}

func TestChunk(t *testing.T) {
	batches := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(batches) != 3 || len(batches[0]) != 2 || len(batches[2]) != 1 {
		t.Errorf("Chunk = %v", batches)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Error("Chunk with n<=0 should be nil")
	}
	if Chunk([]int(nil), 3) != nil {
		t.Error("Chunk of empty slice should be nil")
	}
}

func TestUniquePreservesOrder(t *testing.T) {
	got := Unique([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("Unique = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Unique[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParMapResultOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	results := ParMapResult(items, 8, func(n int) Result[int] { return Ok(n * 2) })
	for i, r := range results {
		v, err := r.Unwrap()
		if err != nil || v != i*2 {
			t.Fatalf("results[%d] = (%d, %v)", i, v, err)
		}
	}
}

func TestParMapResultBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	ParMapResult(make([]int, 32), 4, func(int) Result[int] {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return Ok(0)
	})
	if p := peak.Load(); p > 4 {
		t.Errorf("observed %d concurrent workers, limit 4", p)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		attempts++
		if attempts < 3 {
			return Errf[int]("transient %d", attempts)
		}
		return Ok(99)
	})
	v, err := r.Unwrap()
	if err != nil || v != 99 {
		t.Fatalf("Retry = (%d, %v)", v, err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		attempts++
		return Err[int](boom)
	})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d", attempts)
	}
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 10, InitialWait: 50 * time.Millisecond, MaxWait: time.Second}
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		return Errf[int]("always fails")
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
