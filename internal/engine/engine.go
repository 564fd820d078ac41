package engine

import (
	"context"
	"net/http"
	"time"

	"mapdispatch/internal/logging"
	"mapdispatch/internal/pipeline"
	"mapdispatch/internal/transport"
)

const shutdownGrace = 15 * time.Second

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
	runner    *pipeline.Runner
}

// Run serves until ctx is done. The runner is closed first so deferred
// offsets are committed while the health endpoint reports NOT_SERVING.
func (e *Engine) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.transport.SetServing(false)
		if e.runner != nil {
			if err := e.runner.Close(); err != nil {
				logging.L().Warn("runner close", "error", err)
			}
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = e.metrics.Shutdown(sctx)
		e.transport.Stop()
		logging.L().Info("engine stopped")
	}()

	return e.transport.Serve()
}
