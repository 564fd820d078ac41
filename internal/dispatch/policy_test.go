package dispatch

import (
	"testing"
	"time"

	"mapdispatch/internal/result"
)

func TestPolicy_TerminalResultsStop(t *testing.T) {
	p := DefaultPolicy()
	for _, r := range []result.Result{result.Succeed, result.InvalidEvent, result.UndefinedError} {
		d := p.Next(0, r)
		if d.Verdict != Stop || d.Result != r {
			t.Fatalf("%s: got %+v, want STOP with same result", r, d)
		}
	}
}

func TestPolicy_ExponentialWithFloor(t *testing.T) {
	p := DefaultPolicy()
	want := []time.Duration{time.Second, 2 * time.Second}
	for attempt, w := range want {
		d := p.Next(attempt, result.EngineInternalError)
		if d.Verdict != Retry || d.Delay != w {
			t.Fatalf("attempt %d: got %+v, want RETRY after %v", attempt, d, w)
		}
	}

	sub := Policy{MaxRetries: 5, Backoff: 100 * time.Millisecond, Floor: time.Second}
	if d := sub.Next(0, result.Timeout); d.Delay != time.Second {
		t.Fatalf("floor not applied: %v", d.Delay)
	}
	if d := sub.Next(3, result.Timeout); d.Delay != time.Second {
		t.Fatalf("attempt 3: got %v, want floor 1s (800ms < floor)", d.Delay)
	}
}

func TestPolicy_ExhaustionIsUndefined(t *testing.T) {
	p := DefaultPolicy()
	for _, r := range []result.Result{result.EngineInternalError, result.EngineConnectionError, result.Timeout} {
		d := p.Next(DefaultMaxRetries-1, r)
		if d.Verdict != Stop || d.Result != result.UndefinedError {
			t.Fatalf("%s on last attempt: got %+v", r, d)
		}
	}
}

func TestPolicy_AttemptBound(t *testing.T) {
	p := DefaultPolicy()
	attempts := 0
	for a := 0; ; a++ {
		attempts++
		if p.Next(a, result.EngineConnectionError).Verdict == Stop {
			break
		}
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if c := p.Ceiling(); c != 3*time.Second {
		t.Fatalf("ceiling = %v, want 3s", c)
	}
}

func TestPolicy_ZeroValueUsesDefaults(t *testing.T) {
	var p Policy
	if d := p.Next(0, result.Timeout); d.Verdict != Retry || d.Delay != time.Second {
		t.Fatalf("zero policy: %+v", d)
	}
}
