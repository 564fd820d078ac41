package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mapdispatch/internal/engine"
	"mapdispatch/internal/logging"
)

func main() {
	logging.InitFromEnv()

	cfg := engine.Config{
		GRPCPort:    7070,
		MetricsPort: 9100,
		PipelineYml: "pipeline.yml",
	}
	if p, ok := os.LookupEnv("MAPDISPATCH_PIPELINE"); ok {
		cfg.PipelineYml = p
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		logging.L().Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	if err := e.Run(ctx); err != nil {
		logging.L().Error("engine stopped with error", "error", err)
		os.Exit(1)
	}
}
