package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"mapdispatch/internal/dispatch"
	"mapdispatch/internal/event"
	"mapdispatch/internal/logging"
	"mapdispatch/internal/mapping"
	"mapdispatch/internal/result"
	"mapdispatch/internal/telemetry"
	"mapdispatch/sink"
	"mapdispatch/source/kafka"
)

// DefaultRefresh is how long a tenant's mappings are reused before they are
// fetched again.
const DefaultRefresh = 5 * time.Second

var errUnknownTenant = errors.New("no engine configured for tenant")

type Runner struct {
	source     kafka.Adapter
	sinks      []sink.Adapter
	senders    map[string]dispatch.Sender
	mappings   mapping.Source
	dispatcher *dispatch.Dispatcher
	metrics    *telemetry.Metrics

	refresh      time.Duration
	forceRefresh bool
	now          func() time.Time
	timer        retry.Timer

	mu     sync.Mutex
	loaded map[string]tenantMappings

	closers []io.Closer

	cancel context.CancelFunc
	done   chan error
}

type tenantMappings struct {
	list []mapping.Mapping
	at   time.Time
}

func NewRunner() *Runner {
	return &Runner{
		senders:    map[string]dispatch.Sender{},
		dispatcher: dispatch.New(),
		refresh:    DefaultRefresh,
		now:        time.Now,
		loaded:     map[string]tenantMappings{},
	}
}

func (r *Runner) SetSource(s kafka.Adapter)              { r.source = s }
func (r *Runner) AddSink(s sink.Adapter)                 { r.sinks = append(r.sinks, s) }
func (r *Runner) SetMappings(src mapping.Source)         { r.mappings = src }
func (r *Runner) SetDispatcher(d *dispatch.Dispatcher)   { r.dispatcher = d }
func (r *Runner) SetMetrics(m *telemetry.Metrics)        { r.metrics = m }
func (r *Runner) AddTenant(id string, s dispatch.Sender) { r.senders[id] = s }
func (r *Runner) addCloser(c io.Closer)                  { r.closers = append(r.closers, c) }

// SetRefresh sets the mapping reuse window; force makes every reload bypass
// the mapping cache.
func (r *Runner) SetRefresh(every time.Duration, force bool) {
	if every > 0 {
		r.refresh = every
	}
	r.forceRefresh = force
}

// Start runs the source in the background until ctx is done or Close.
func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	if r.mappings == nil {
		return errors.New("runner: no mapping source configured")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan error, 1)
	go func() {
		err := r.source.Run(ctx, r.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.L().Error("runner: source stopped", "error", err)
		}
		r.done <- err
	}()
	return nil
}

// Close stops the source and releases sinks and mapping backends. It is safe
// on a runner that was never started.
func (r *Runner) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var errs []error
	if r.source != nil {
		errs = append(errs, r.source.Close())
	}
	if r.done != nil {
		<-r.done
	}
	return errors.Join(append(errs, r.closeResources())...)
}

func (r *Runner) closeResources() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Handle processes one delivery end to end. Failures are dead-lettered and
// the record is settled; the error return is reserved for the source.
func (r *Runner) Handle(ctx context.Context, d kafka.Delivery) error {
	log := logging.L().With("partition", d.Partition.ID, "offset", d.Offset)

	ev, err := event.Decode(d.Value)
	if err != nil {
		log.Warn("event rejected", "error", err)
		r.deadLetter(ctx, d, sink.DeadLetter{Tenant: ev.Tenant(), Result: result.InvalidEvent, Error: err.Error(), Raw: d.Value})
		r.settle(ctx, d, telemetry.EventInvalid)
		return nil
	}
	tenant := ev.Tenant()

	sender, ok := r.senders[tenant]
	if !ok {
		log.Warn("event rejected", "tenant", tenant, "error", errUnknownTenant)
		r.deadLetter(ctx, d, sink.DeadLetter{Tenant: tenant, Result: result.InvalidEvent, Error: errUnknownTenant.Error(), Event: ev})
		r.settle(ctx, d, telemetry.EventUnknownTenant)
		return nil
	}

	ms, err := r.mappingsFor(ctx, tenant)
	if err != nil {
		log.Error("mappings unavailable", "tenant", tenant, "error", err)
		r.deadLetter(ctx, d, sink.DeadLetter{Tenant: tenant, Result: result.UndefinedError, Error: err.Error(), Event: ev})
		r.settle(ctx, d, telemetry.EventMappingError)
		return nil
	}

	matched := mapping.Match(ev, ms)
	if len(matched) == 0 {
		log.Debug("no mapping matched", "tenant", tenant, "mappings", len(ms))
		r.settle(ctx, d, telemetry.EventUnmatched)
		return nil
	}

	outs := r.dispatcher.Dispatch(ctx, sender, d.Commits, dispatch.Unit{
		Partition: d.Partition,
		Offset:    d.Offset,
		Event:     ev,
		Mappings:  matched,
		Deadline:  d.Deadline,
	})
	for _, o := range outs {
		if o.Result == result.Succeed {
			continue
		}
		r.deadLetter(ctx, d, sink.DeadLetter{
			Tenant:    tenant,
			MappingID: o.MappingID,
			Result:    o.Result,
			Attempts:  o.Attempts,
			Event:     ev,
		})
	}
	if ctx.Err() != nil {
		r.metrics.ObserveEvent(telemetry.EventAbandoned)
		return nil
	}
	r.metrics.ObserveEvent(telemetry.EventDispatched)
	return nil
}

// settle finishes a record that produced no dispatch. Once ctx is done the
// record is held instead: whatever stopped it may be the shutdown itself, and
// it must be read again.
func (r *Runner) settle(ctx context.Context, d kafka.Delivery, outcome string) {
	if ctx.Err() != nil {
		r.metrics.ObserveEvent(telemetry.EventAbandoned)
		if d.Commits != nil {
			d.Commits.Abandon(d.Partition, d.Offset)
		}
		return
	}
	r.metrics.ObserveEvent(outcome)
	if d.Commits != nil {
		d.Commits.Settle(ctx, d.Partition, d.Offset, d.Deadline)
	}
}

// deadLetter pushes to every sink. Nothing is published once ctx is done:
// the outcome of an interrupted dispatch is not a real failure.
func (r *Runner) deadLetter(ctx context.Context, d kafka.Delivery, dl sink.DeadLetter) {
	if ctx.Err() != nil {
		return
	}
	dl.Topic, dl.Partition, dl.Offset = d.Partition.Topic, d.Partition.ID, d.Offset
	dl.FailedAt = r.now().UTC()
	if dl.Error == "" {
		dl.Error = fmt.Sprintf("dispatch ended with %s", dl.Result)
	}
	r.metrics.ObserveDeadLetter(dl.Result)
	for _, s := range r.sinks {
		if err := s.Push(ctx, dl); err != nil {
			logging.L().Error("dead letter not published", "tenant", dl.Tenant,
				"mapping_id", dl.MappingID, "offset", dl.Offset, "error", err)
		}
	}
}

// mappingsFor returns the tenant's mappings, reloading them once the reuse
// window has passed. A failed reload keeps serving the previous list.
func (r *Runner) mappingsFor(ctx context.Context, tenant string) ([]mapping.Mapping, error) {
	r.mu.Lock()
	cur, ok := r.loaded[tenant]
	r.mu.Unlock()
	if ok && r.now().Sub(cur.at) < r.refresh {
		return cur.list, nil
	}

	list, err := r.loadMappings(ctx, tenant)
	if err != nil {
		r.metrics.ObserveMappingLoad(telemetry.LoadFailed)
		if ok {
			logging.L().Warn("mapping reload failed, keeping previous", "tenant", tenant, "error", err)
			return cur.list, nil
		}
		return nil, err
	}
	kind := telemetry.LoadCached
	if r.forceRefresh {
		kind = telemetry.LoadForced
	}
	r.metrics.ObserveMappingLoad(kind)

	r.mu.Lock()
	r.loaded[tenant] = tenantMappings{list: list, at: r.now()}
	r.mu.Unlock()
	return list, nil
}

// loadMappings retries the source with the dispatch backoff law.
func (r *Runner) loadMappings(ctx context.Context, tenant string) ([]mapping.Mapping, error) {
	pol := r.dispatcher.Policy()
	var list []mapping.Mapping
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(pol.MaxRetries)),
		retry.LastErrorOnly(true),
		// n counts failed attempts so far, starting at 1
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return pol.Delay(int(n) - 1)
		}),
		retry.OnRetry(func(_ uint, err error) {
			logging.L().Warn("mapping fetch failed, retrying", "tenant", tenant, "error", err)
		}),
	}
	if r.timer != nil {
		opts = append(opts, retry.WithTimer(r.timer))
	}
	err := retry.Do(func() error {
		var err error
		list, err = r.mappings.Get(ctx, tenant, r.forceRefresh)
		return err
	}, opts...)
	return list, err
}
