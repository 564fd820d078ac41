package dispatch

import (
	"time"

	"mapdispatch/internal/result"
)

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second
	DefaultFloor      = time.Second
)

type Verdict int

const (
	Stop Verdict = iota
	Retry
)

func (v Verdict) String() string {
	if v == Retry {
		return "RETRY"
	}
	return "STOP"
}

// Decision is the policy's answer for one observed result. Result is the
// final result when Verdict is Stop.
type Decision struct {
	Verdict Verdict
	Delay   time.Duration
	Result  result.Result
}

// Policy is the single retry law: a retryable result observed on attempt n
// (0-based) is retried after max(Floor, Backoff·2^n) while fewer than
// MaxRetries attempts have been made. An exhausted budget stops with
// UNDEFINED_ERROR whatever the last result was.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	Floor      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, Backoff: DefaultBackoff, Floor: DefaultFloor}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.Floor < 0 {
		p.Floor = 0
	}
	return p
}

func (p Policy) Next(attempt int, r result.Result) Decision {
	p = p.withDefaults()
	if !r.Retryable() {
		return Decision{Verdict: Stop, Result: r}
	}
	if attempt+1 >= p.MaxRetries {
		return Decision{Verdict: Stop, Result: result.UndefinedError}
	}
	return Decision{Verdict: Retry, Delay: p.Delay(attempt), Result: r}
}

// Delay is the wait after a failed attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.Backoff << uint(attempt)
	if d < p.Floor {
		d = p.Floor
	}
	return d
}

// Ceiling is the worst-case total backoff one task can accumulate.
func (p Policy) Ceiling() time.Duration {
	p = p.withDefaults()
	var total time.Duration
	for a := 0; a+1 < p.MaxRetries; a++ {
		total += p.Delay(a)
	}
	return total
}
