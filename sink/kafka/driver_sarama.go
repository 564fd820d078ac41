package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"mapdispatch/internal/logging"
	"mapdispatch/sink"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
	Version string   `yaml:"version"`
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer

	closeOnce sync.Once
	closeErr  error
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if cfg.Topic == "" || len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: %w", err)
	}
	d.p = p
	return nil
}

func (d *driver) Push(ctx context.Context, dl sink.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("kafka-sink: encode: %w", err)
	}
	part, off, err := d.p.SendMessage(&sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(dl.Tenant),
		Value: sarama.ByteEncoder(raw),
		Headers: []sarama.RecordHeader{
			{Key: []byte("result"), Value: []byte(dl.Result.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka-sink: send: %w", err)
	}
	logging.L().Debug("dead letter published", "topic", d.cfg.Topic, "partition", part, "offset", off, "mapping_id", dl.MappingID)
	return nil
}

func (d *driver) Close() error {
	d.closeOnce.Do(func() {
		if d.p != nil {
			d.closeErr = d.p.Close()
		}
	})
	return d.closeErr
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
