package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mapdispatch/internal/config"
	"mapdispatch/internal/dispatch"
	"mapdispatch/internal/downstream"
	"mapdispatch/internal/logging"
	"mapdispatch/internal/mapping"
	"mapdispatch/internal/offset"
	"mapdispatch/internal/telemetry"
	"mapdispatch/sink"
	sinkkafka "mapdispatch/sink/kafka"
	"mapdispatch/sink/stdout"
	"mapdispatch/source/kafka"
)

// Compile builds a runner from a pipeline file. m may be nil.
func Compile(ctx context.Context, path string, m *telemetry.Metrics) (*Runner, error) {
	r := NewRunner()
	r.SetMetrics(m)
	if err := LoadYAML(ctx, path, r); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func LoadYAML(ctx context.Context, path string, r *Runner) error {
	cfg, err := config.LoadPipelineSpec(path)
	if err != nil {
		return err
	}

	if err := loadTenants(cfg, r); err != nil {
		return err
	}
	if err := loadMappings(ctx, cfg.Mappings, r); err != nil {
		return err
	}
	r.SetDispatcher(dispatch.New(
		dispatch.WithPolicy(policyOf(cfg.Dispatch)),
		dispatch.WithExecutor(dispatch.Options{
			MaxConcurrency:  cfg.Dispatch.MaxConcurrency,
			WaveSize:        cfg.Dispatch.WaveSize,
			MinWaveInterval: time.Duration(cfg.Dispatch.MinWaveIntervalMS) * time.Millisecond,
		}),
		dispatch.WithMetrics(r.metrics),
	))

	if cfg.Source.Kind != "kafka" {
		return fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	kc, err := config.LoadKafkaConfig(cfg.Source.Config)
	if err != nil {
		return err
	}
	src, err := kafka.NewAdapter(cfg.Source.Driver)
	if err != nil {
		return err
	}
	if sd, ok := src.(*kafka.SaramaDriver); ok {
		sd.CommitOptions = append(sd.CommitOptions, offset.WithMetrics(r.metrics))
	}
	if err = src.Configure(kc); err != nil {
		return err
	}
	r.SetSource(src)

	for _, name := range cfg.DeadLetter.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}
		switch name {
		case "stdout":
			err = sDrv.Configure(stdout.Config{Pretty: cfg.DeadLetter.Stdout.Pretty})
		case "kafka":
			dk := cfg.DeadLetter.Kafka
			err = sDrv.Configure(sinkkafka.Config{
				Brokers: dk.Brokers,
				Topic:   dk.Topic,
				Acks:    dk.RequiredAcks,
				Version: dk.Version,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return err
		}
		r.AddSink(sDrv)
	}
	return nil
}

func policyOf(d config.DispatchSection) dispatch.Policy {
	p := dispatch.DefaultPolicy()
	if d.Retry.MaxRetries > 0 {
		p.MaxRetries = d.Retry.MaxRetries
	}
	if d.Retry.BaseMS > 0 {
		p.Backoff = time.Duration(d.Retry.BaseMS) * time.Millisecond
	}
	if d.Retry.FloorMS > 0 {
		p.Floor = time.Duration(d.Retry.FloorMS) * time.Millisecond
	}
	return p
}

func loadTenants(cfg config.File, r *Runner) error {
	tenants, err := config.LoadTenants(cfg.Tenants)
	if err != nil {
		return err
	}
	bc := downstream.BreakerConfig{
		Enabled:             cfg.Breaker.Enabled,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            time.Duration(cfg.Breaker.IntervalS) * time.Second,
		OpenTimeout:         time.Duration(cfg.Breaker.OpenTimeoutS) * time.Second,
	}
	for _, t := range tenants {
		r.AddTenant(t.ID, downstream.NewClient(t, downstream.WithBreaker(bc, r.metrics.BreakerHook(t.ID))))
	}
	logging.L().Info("tenants loaded", "count", len(tenants))
	return nil
}

func loadMappings(ctx context.Context, ms config.MappingsSection, r *Runner) error {
	r.SetRefresh(time.Duration(ms.RefreshS)*time.Second, ms.ForceRefresh)
	if len(ms.Static) > 0 {
		r.SetMappings(mapping.NewStatic(ms.Static))
		return nil
	}
	if ms.PostgresDSN == "" {
		return errors.New("mappings: static list or postgres_dsn required")
	}
	store, err := mapping.OpenPostgres(ms.PostgresDSN)
	if err != nil {
		return err
	}
	r.addCloser(store)
	if err := store.Ping(ctx); err != nil {
		// lookups retry the store per event
		logging.L().Warn("mapping store unreachable at startup", "error", err)
	}

	var cache mapping.Cache
	if ms.RedisURL != "" {
		rdb, err := mapping.DialRedis(ctx, ms.RedisURL)
		if err != nil {
			// the store still serves every lookup
			logging.L().Warn("mapping cache unavailable", "error", err)
		} else {
			r.addCloser(rdb)
			cache = mapping.NewRedisCache(rdb)
		}
	}
	r.SetMappings(mapping.NewRetriever(store, cache, time.Duration(ms.CacheTTLS)*time.Second))
	return nil
}
