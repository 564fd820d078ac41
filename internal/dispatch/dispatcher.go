// Package dispatch runs matched mappings against the downstream engines:
// one retried task per mapping, bounded fan-out, and an offset decision after
// every attempt.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"mapdispatch/internal/downstream"
	"mapdispatch/internal/event"
	"mapdispatch/internal/logging"
	"mapdispatch/internal/mapping"
	"mapdispatch/internal/offset"
	"mapdispatch/internal/result"
	"mapdispatch/internal/telemetry"
)

// Sender performs one engine call for a resolved target.
type Sender interface {
	Send(ctx context.Context, t downstream.Target) result.Result
}

// Recorder receives every attempt's outcome, and hears about records whose
// dispatch was cut short by ctx; *offset.Coordinator implements it.
type Recorder interface {
	OnOutcome(ctx context.Context, p offset.Partition, offset int64, deadline time.Time, r result.Result) offset.Action
	Abandon(p offset.Partition, offset int64)
}

// Unit is one consumed record together with the mappings it matched.
type Unit struct {
	Partition offset.Partition
	Offset    int64
	Event     event.Event
	Mappings  []mapping.Mapping
	Deadline  time.Time
}

type Outcome struct {
	MappingID string
	Result    result.Result
	Attempts  int
}

type Option func(*Dispatcher)

func WithPolicy(p Policy) Option { return func(d *Dispatcher) { d.policy = p.withDefaults() } }

func WithExecutor(o Options) Option { return func(d *Dispatcher) { d.opts = o.withDefaults() } }

func WithMetrics(m *telemetry.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithTimer replaces the clock used to wait out backoff delays.
func WithTimer(t retry.Timer) Option { return func(d *Dispatcher) { d.timer = t } }

// WithStateHook observes every task state transition.
func WithStateHook(fn func(mappingID string, s State)) Option {
	return func(d *Dispatcher) { d.hook = fn }
}

type Dispatcher struct {
	policy  Policy
	opts    Options
	metrics *telemetry.Metrics
	timer   retry.Timer
	hook    func(string, State)
}

func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		policy: DefaultPolicy(),
		opts:   Options{}.withDefaults(),
		timer:  realTimer{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) Policy() Policy { return d.policy }

// Dispatch resolves every mapping of u once, then runs one task per mapping
// under the executor. Outcomes come back in completion order; individual
// failures are reported as results, never as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, s Sender, rec Recorder, u Unit) []Outcome {
	out := make([]Outcome, 0, len(u.Mappings))
	tasks := make([]Task, 0, len(u.Mappings))
	ids := make([]string, 0, len(u.Mappings))
	attempts := make([]int, len(u.Mappings))
	finished := make([]bool, len(u.Mappings))

	for _, m := range u.Mappings {
		t, err := downstream.Resolve(u.Event, m)
		if err != nil {
			logging.L().Error("mapping rejected", "action", "resolve", "state", "ERROR",
				"partition", u.Partition.ID, "offset", u.Offset, "mapping_id", m.ID, "error", err)
			d.notify(m.ID, Done)
			rec.OnOutcome(ctx, u.Partition, u.Offset, u.Deadline, result.InvalidEvent)
			d.metrics.ObserveResult(result.InvalidEvent)
			out = append(out, Outcome{MappingID: m.ID, Result: result.InvalidEvent})
			continue
		}
		idx := len(tasks)
		ids = append(ids, m.ID)
		tasks = append(tasks, func(ctx context.Context) (result.Result, error) {
			res, ok := d.run(ctx, s, rec, u, t, &attempts[idx])
			finished[idx] = ok
			return res, nil
		})
	}

	completions := Execute(ctx, tasks, d.opts)
	for i := range tasks {
		if !finished[i] && ctx.Err() != nil {
			rec.Abandon(u.Partition, u.Offset)
			break
		}
	}
	for _, c := range completions {
		o := Outcome{MappingID: ids[c.Index], Result: c.Result, Attempts: attempts[c.Index]}
		d.metrics.ObserveResult(o.Result)
		lvl := logging.L().Info
		if o.Result != result.Succeed {
			lvl = logging.L().Warn
		}
		lvl("mapping dispatched", "partition", u.Partition.ID, "offset", u.Offset,
			"mapping_id", o.MappingID, "result", o.Result.String(), "attempts", o.Attempts)
		out = append(out, o)
	}
	return out
}

type retryable struct {
	res   result.Result
	delay time.Duration
}

func (r *retryable) Error() string { return fmt.Sprintf("dispatch: %s, retrying in %s", r.res, r.delay) }

// run is the sequential retry loop of one task. Every attempt's result is
// handed to rec before the policy decides what happens next. An attempt that
// returns after ctx is done is not recorded: the call was cut short, not
// answered. finished is false when the task ends that way or is interrupted
// before it reaches a verdict.
func (d *Dispatcher) run(ctx context.Context, s Sender, rec Recorder, u Unit, t downstream.Target, attempts *int) (_ result.Result, finished bool) {
	d.metrics.TaskStarted()
	defer d.metrics.TaskDone()

	id := t.MappingID()
	lc := &lifecycle{hook: func(st State) { d.notify(id, st) }}
	var (
		last result.Result
		cut  bool
	)

	err := retry.Do(
		func() error {
			_ = lc.move(Dispatching)
			start := time.Now()
			last = s.Send(ctx, t)
			*attempts++
			d.metrics.ObserveAttempt(time.Since(start))
			if ctx.Err() != nil {
				cut = true
				return nil
			}
			rec.OnOutcome(ctx, u.Partition, u.Offset, u.Deadline, last)

			dec := d.policy.Next(*attempts-1, last)
			if dec.Verdict == Stop {
				return nil
			}
			_ = lc.move(RetryWait)
			d.metrics.ObserveRetry(last)
			logging.L().Warn("dispatch retry scheduled", "partition", u.Partition.ID, "offset", u.Offset,
				"mapping_id", id, "attempt", *attempts, "result", last.String(), "delay", dec.Delay.String())
			return &retryable{res: last, delay: dec.Delay}
		},
		retry.Context(ctx),
		retry.Attempts(uint(d.policy.MaxRetries)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var r *retryable
			return errors.As(err, &r)
		}),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			var r *retryable
			if errors.As(err, &r) {
				return r.delay
			}
			return 0
		}),
		retry.WithTimer(d.timer),
	)
	_ = lc.move(Done)

	if *attempts == 0 {
		logging.L().Warn("dispatch abandoned before first attempt", "mapping_id", id, "error", err)
		return result.UndefinedError, false
	}
	if cut {
		logging.L().Warn("dispatch interrupted during engine call", "partition", u.Partition.ID, "offset", u.Offset,
			"mapping_id", id, "attempts", *attempts, "error", ctx.Err())
		return result.UndefinedError, false
	}
	final := d.policy.Next(*attempts-1, last)
	if err != nil && final.Verdict == Retry {
		// the context ended during a backoff wait
		logging.L().Warn("dispatch interrupted during backoff", "mapping_id", id, "attempts", *attempts, "error", err)
		return result.UndefinedError, false
	}
	if last.Retryable() {
		logging.L().Error("dispatch retries exhausted", "partition", u.Partition.ID, "offset", u.Offset,
			"mapping_id", id, "attempts", *attempts, "last", last.String())
	}
	return final.Result, true
}

func (d *Dispatcher) notify(id string, s State) {
	if d.hook != nil {
		d.hook(id, s)
	}
}

type realTimer struct{}

func (realTimer) After(d time.Duration) <-chan time.Time { return time.After(d) }
