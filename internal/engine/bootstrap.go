package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/pipeline"
	"mapdispatch/internal/telemetry"
	"mapdispatch/internal/transport"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	cfg, err := cfg.withPipelinePorts()
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. metrics
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	msrv := telemetry.Expose(cfg.MetricsPort, reg)

	// 3. pipeline runner
	var runner *pipeline.Runner
	if cfg.PipelineYml != "" {
		runner, err = pipeline.Compile(ctx, cfg.PipelineYml, metrics)
		if err == nil {
			err = runner.Start(ctx)
		}
		if err != nil {
			srv.Stop()
			_ = msrv.Close()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	logging.L().Info("engine started", "grpc_port", cfg.GRPCPort, "metrics_port", cfg.MetricsPort, "pipeline", cfg.PipelineYml)
	return &Engine{
		transport: srv,
		metrics:   msrv,
		runner:    runner,
	}, nil
}
