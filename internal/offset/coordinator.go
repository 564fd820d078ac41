// Package offset decides what a stream consumer commits after each dispatch
// outcome.
package offset

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/result"
	"mapdispatch/internal/telemetry"
)

const (
	// DefaultUrgency is the remaining commit window below which a terminal
	// outcome commits immediately instead of deferring.
	DefaultUrgency = 1500 * time.Millisecond
	// DefaultFailurePause follows a failed commit.
	DefaultFailurePause = 10 * time.Second
	// DefaultCommitInterval sizes the commit window derived by Deadline.
	DefaultCommitInterval = 5 * time.Second
)

type Partition struct {
	Topic string
	ID    int32
}

func (p Partition) String() string { return fmt.Sprintf("%s/%d", p.Topic, p.ID) }

// Committer is the only write path to consumer offsets. An offset is the
// position of the next record to read.
type Committer interface {
	Commit(ctx context.Context, offsets map[Partition]int64) error
}

type CommitterFunc func(ctx context.Context, offsets map[Partition]int64) error

func (f CommitterFunc) Commit(ctx context.Context, offsets map[Partition]int64) error {
	return f(ctx, offsets)
}

type Kind int

const (
	// Hold committed the current offset ahead of a retry.
	Hold Kind = iota
	// Advance committed offset+1 because the commit window is closing.
	Advance
	// Defer recorded offset+1 as the partition's pending commit.
	Defer
)

func (k Kind) String() string {
	switch k {
	case Hold:
		return "hold"
	case Advance:
		return "advance"
	case Defer:
		return "defer"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Action reports what the coordinator did. Err is informational: a failed
// commit has already been logged and paused on.
type Action struct {
	Kind   Kind
	Offset int64
	Err    error
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithSleep replaces the context-aware pause used after commit failures.
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func WithFailurePause(d time.Duration) Option { return func(c *Coordinator) { c.pause = d } }

func WithUrgency(d time.Duration) Option { return func(c *Coordinator) { c.urgency = d } }

func WithCommitInterval(d time.Duration) Option { return func(c *Coordinator) { c.every = d } }

func WithMetrics(m *telemetry.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

// Coordinator serializes commit decisions per partition: every decision and
// the commit it triggers run under that partition's lock.
type Coordinator struct {
	committer Committer
	now       func() time.Time
	sleep     func(context.Context, time.Duration)
	pause     time.Duration
	urgency   time.Duration
	every     time.Duration
	metrics   *telemetry.Metrics

	mu    sync.Mutex
	parts map[Partition]*partState
}

type partState struct {
	mu sync.Mutex

	pending    int64
	hasPending bool

	committed    int64
	hasCommitted bool
	lastCommit   time.Time

	// held caps every later advance once a record was abandoned.
	held    int64
	hasHeld bool
}

func NewCoordinator(committer Committer, opts ...Option) *Coordinator {
	c := &Coordinator{
		committer: committer,
		now:       time.Now,
		sleep:     sleepCtx,
		pause:     DefaultFailurePause,
		urgency:   DefaultUrgency,
		every:     DefaultCommitInterval,
		parts:     make(map[Partition]*partState),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) state(p Partition) *partState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.parts[p]
	if !ok {
		st = &partState{lastCommit: c.now()}
		c.parts[p] = st
	}
	return st
}

// OnOutcome is called after every dispatch attempt for the record at
// offset. A retryable result commits offset itself so the consumer does not
// move past a record still being retried; any pending advance for the
// partition is pulled back to offset. A terminal result goes through Settle.
func (c *Coordinator) OnOutcome(ctx context.Context, p Partition, offset int64, deadline time.Time, r result.Result) Action {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !r.Retryable() {
		return c.settleLocked(ctx, st, p, offset, deadline)
	}

	logging.L().Warn("engine error, committing current offset before retry",
		"topic", p.Topic, "partition", p.ID, "offset", offset, "result", r.String())
	if st.hasPending && st.pending > offset {
		st.pending = offset
	}
	err := c.commitLocked(ctx, st, p, offset, "retry")
	return Action{Kind: Hold, Offset: offset, Err: err}
}

// Settle records that the record at offset is finished. With less than the
// urgency window left before deadline, offset+1 is committed now; otherwise
// it becomes the partition's pending commit. A zero deadline is treated as
// already expired.
func (c *Coordinator) Settle(ctx context.Context, p Partition, offset int64, deadline time.Time) Action {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return c.settleLocked(ctx, st, p, offset, deadline)
}

func (c *Coordinator) settleLocked(ctx context.Context, st *partState, p Partition, offset int64, deadline time.Time) Action {
	next := offset + 1
	if st.hasHeld && next > st.held {
		logging.L().Debug("advance blocked by abandoned record",
			"topic", p.Topic, "partition", p.ID, "offset", next, "held", st.held)
		return Action{Kind: Hold, Offset: st.held}
	}
	left := deadline.Sub(c.now())
	if deadline.IsZero() || left < c.urgency {
		logging.L().Info("commit window closing, committing next offset",
			"topic", p.Topic, "partition", p.ID, "offset", next, "time_left", left.String())
		err := c.commitLocked(ctx, st, p, next, "advance")
		return Action{Kind: Advance, Offset: next, Err: err}
	}

	if !st.hasPending || next > st.pending {
		st.pending, st.hasPending = next, true
	}
	c.metrics.ObserveDeferred()
	logging.L().Debug("offset commit deferred",
		"topic", p.Topic, "partition", p.ID, "pending", st.pending, "time_left", left.String())
	return Action{Kind: Defer, Offset: next}
}

func (c *Coordinator) commitLocked(ctx context.Context, st *partState, p Partition, offset int64, kind string) error {
	if err := c.committer.Commit(ctx, map[Partition]int64{p: offset}); err != nil {
		c.metrics.ObserveCommit("failed")
		logging.L().Error("offset commit failed",
			"topic", p.Topic, "partition", p.ID, "offset", offset, "kind", kind, "pause", c.pause.String(), "error", err)
		c.sleep(ctx, c.pause)
		return err
	}
	st.committed, st.hasCommitted, st.lastCommit = offset, true, c.now()
	if st.hasPending && st.pending <= offset {
		st.hasPending = false
	}
	c.metrics.ObserveCommit(kind)
	return nil
}

// Abandon marks the record at offset as not finished: its dispatch was cut
// short and it must be read again. No later advance is recorded for p, and
// an advance already committed past offset is rewound by the next flush.
// A hold lasts for the coordinator's lifetime; consumer sessions start with
// a fresh coordinator.
func (c *Coordinator) Abandon(p Partition, offset int64) {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.hasHeld || offset < st.held {
		st.held, st.hasHeld = offset, true
	}
	switch {
	case st.hasPending && st.pending > st.held:
		st.pending = st.held
	case !st.hasPending && st.hasCommitted && st.committed > st.held:
		st.pending, st.hasPending = st.held, true
	}
	logging.L().Warn("record abandoned, holding offset",
		"topic", p.Topic, "partition", p.ID, "offset", st.held)
}

// Pending returns the deferred commit recorded for p.
func (c *Coordinator) Pending(p Partition) (int64, bool) {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending, st.hasPending
}

// FlushPartition commits p's pending offset, if any.
func (c *Coordinator) FlushPartition(ctx context.Context, p Partition) error {
	st := c.state(p)
	st.mu.Lock()
	defer st.mu.Unlock()
	return c.flushLocked(ctx, st, p)
}

func (c *Coordinator) flushLocked(ctx context.Context, st *partState, p Partition) error {
	if !st.hasPending {
		return nil
	}
	if st.hasCommitted && (st.pending == st.committed || st.pending < st.committed && !st.hasHeld) {
		st.hasPending = false
		return nil
	}
	return c.commitLocked(ctx, st, p, st.pending, "flush")
}

// Flush commits every partition's pending offset.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	parts := make([]Partition, 0, len(c.parts))
	for p := range c.parts {
		parts = append(parts, p)
	}
	c.mu.Unlock()

	var errs []error
	for _, p := range parts {
		if err := c.FlushPartition(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
