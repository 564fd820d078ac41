package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/offset"
)

func init() { Register("sarama", func() Adapter { return &SaramaDriver{} }) }

type SaramaDriver struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
	gate  *Gate

	// CommitOptions are applied to every session's offset coordinator.
	CommitOptions []offset.Option
}

func (d *SaramaDriver) Configure(config Config) error {
	d.cfg = config
	d.gate = NewGate(config.InFlight.Capacity)

	sc, err := saramaConfig(config)
	if err != nil {
		return err
	}
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return err
	}
	d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl)
	return err
}

func saramaConfig(config Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Consumer.Return.Errors = true
	// Offsets move only through the coordinator.
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if config.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if config.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = config.SASLUser, config.SASLPass
	}
	switch config.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

func (d *SaramaDriver) Run(ctx context.Context, handle HandleFunc) error {
	go func() {
		for err := range d.group.Errors() {
			logGroupError(err)
		}
	}()

	h := d.handler(ctx, handle)
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// logGroupError reports an asynchronous consumer group error. Offset commit
// failures reach the driver only this way: session Commit returns nothing.
func logGroupError(err error) {
	var ce *sarama.ConsumerError
	if errors.As(err, &ce) {
		logging.L().Error("sarama-driver: partition error, offset commit may not have landed",
			"topic", ce.Topic, "partition", ce.Partition, "error", ce.Err)
		return
	}
	logging.L().Error("sarama-driver: consumer group error", "error", err)
}

func (d *SaramaDriver) handler(ctx context.Context, handle HandleFunc) *groupHandler {
	opts := []offset.Option{
		offset.WithCommitInterval(d.cfg.Checkpoint.CommitInt),
		offset.WithFailurePause(d.cfg.Checkpoint.FailurePause),
		offset.WithUrgency(d.cfg.Checkpoint.Urgency),
	}
	return &groupHandler{
		ctx:       ctx,
		handle:    handle,
		gate:      d.gate,
		idleFlush: d.cfg.Checkpoint.IdleFlush,
		pause:     d.cfg.Checkpoint.FailurePause,
		opts:      append(opts, d.CommitOptions...),
	}
}

func (d *SaramaDriver) Close() error {
	d.gate.Close()
	err := d.group.Close()
	return errors.Join(err, d.cl.Close())
}

// groupHandler hands records to the pipeline. ctx is the Run context, not
// the session's, so a rebalance does not abort a dispatch in progress.
type groupHandler struct {
	ctx       context.Context
	handle    HandleFunc
	gate      *Gate
	idleFlush time.Duration
	pause     time.Duration
	opts      []offset.Option

	coord *offset.Coordinator
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.coord = offset.NewCoordinator(sessionCommitter{sess: sess}, h.opts...)
	for topic, parts := range sess.Claims() {
		for _, id := range parts {
			h.coord.Track(offset.Partition{Topic: topic, ID: id})
		}
	}
	logging.L().Info("sarama-driver: session started",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

// Cleanup commits whatever was deferred before the partitions are released.
func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.pause+time.Second)
	defer cancel()
	if err := h.coord.Flush(ctx); err != nil {
		logging.L().Warn("sarama-driver: flush on rebalance failed", "member", sess.MemberID(), "error", err)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	p := offset.Partition{Topic: claim.Topic(), ID: claim.Partition()}
	every := h.idleFlush
	if every <= 0 {
		every = time.Second
	}
	tick := time.NewTicker(every)
	defer tick.Stop()

	for {
		select {
		case <-sess.Context().Done():
			return nil

		case <-tick.C:
			if flushed, err := h.coord.FlushDue(h.ctx, p); flushed && err == nil {
				logging.L().Debug("sarama-driver: deferred commit flushed", "partition", p.String())
			}

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.gate.Acquire(h.ctx); err != nil {
				return err
			}
			err := h.handle(h.ctx, Delivery{
				Partition: p,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Timestamp: msg.Timestamp,
				Deadline:  h.coord.Deadline(p),
				Commits:   h.coord,
			})
			h.gate.Release(1)
			if err != nil {
				return err
			}
		}
	}
}
