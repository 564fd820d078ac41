package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/result"
)

const DefaultMaxConcurrency = 4

// Task performs one (event, mapping) dispatch including its retries.
type Task func(ctx context.Context) (result.Result, error)

// Options shapes an Execute call. WaveSize <= 0 runs all tasks as a single
// wave capped at MaxConcurrency. MinWaveInterval spaces wave starts.
type Options struct {
	MaxConcurrency  int
	WaveSize        int
	MinWaveInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	return o
}

// Completion reports one finished task. Index is the task's position in the
// submitted slice.
type Completion struct {
	Index  int
	Result result.Result
	Err    error
}

// Execute runs tasks with at most MaxConcurrency in flight and returns
// their completions in completion order. Each wave is drained before the
// next one starts. A task that errors or panics completes as
// UNDEFINED_ERROR; its siblings are unaffected.
func Execute(ctx context.Context, tasks []Task, opts Options) []Completion {
	opts = opts.withDefaults()

	var (
		mu  sync.Mutex
		out = make([]Completion, 0, len(tasks))
	)
	record := func(c Completion) {
		mu.Lock()
		out = append(out, c)
		mu.Unlock()
	}

	size := opts.WaveSize
	if size <= 0 || size > len(tasks) {
		size = len(tasks)
	}
	var lim *rate.Limiter
	if opts.MinWaveInterval > 0 {
		lim = rate.NewLimiter(rate.Every(opts.MinWaveInterval), 1)
	}

	for start := 0; start < len(tasks); start += size {
		end := min(start+size, len(tasks))

		err := ctx.Err()
		if err == nil && lim != nil {
			err = lim.Wait(ctx)
		}
		if err != nil {
			logging.L().Warn("dispatch waves abandoned", "started", start, "remaining", len(tasks)-start, "error", err)
			for i := start; i < len(tasks); i++ {
				record(Completion{Index: i, Result: result.UndefinedError, Err: err})
			}
			break
		}

		var g errgroup.Group
		g.SetLimit(opts.MaxConcurrency)
		for i := start; i < end; i++ {
			task := tasks[i]
			g.Go(func() error {
				record(runTask(ctx, i, task))
				return nil
			})
		}
		_ = g.Wait()
	}
	return out
}

func runTask(ctx context.Context, idx int, task Task) (c Completion) {
	c.Index = idx
	defer func() {
		if r := recover(); r != nil {
			c.Result = result.UndefinedError
			c.Err = fmt.Errorf("dispatch: task panicked: %v", r)
			logging.L().Error("dispatch task panicked", "task", idx, "panic", r)
		}
	}()

	res, err := task(ctx)
	if err != nil {
		logging.L().Error("dispatch task failed", "task", idx, "error", err)
		c.Result, c.Err = result.UndefinedError, err
		return c
	}
	c.Result = res
	return c
}
