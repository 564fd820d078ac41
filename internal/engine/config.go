package engine

import "mapdispatch/internal/config"

type Config struct {
	GRPCPort    int
	MetricsPort int
	PipelineYml string // empty runs the health endpoint only
}

// withPipelinePorts lets the pipeline file's service section override the
// built-in ports.
func (c Config) withPipelinePorts() (Config, error) {
	if c.PipelineYml == "" {
		return c, nil
	}
	f, err := config.LoadPipelineSpec(c.PipelineYml)
	if err != nil {
		return c, err
	}
	if f.Service.GRPCPort != 0 {
		c.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.MetricsPort != 0 {
		c.MetricsPort = f.Service.MetricsPort
	}
	return c, nil
}
