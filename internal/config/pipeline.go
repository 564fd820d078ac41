package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const SupportedSchema = "v1"

var ErrUnsupportedSchema = errors.New("unsupported schema_version")

// LoadPipelineSpec parses a pipeline YAML and validates schema_version.
// Relative source and tenants paths are resolved against the file's
// directory.
func LoadPipelineSpec(path string) (File, error) {
	var cfg File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("pipeline %s: %w", path, err)
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline %w %q (want %q)", ErrUnsupportedSchema, cfg.SchemaVersion, SupportedSchema)
	}
	base := filepath.Dir(path)
	cfg.Source.Config = resolve(base, cfg.Source.Config)
	cfg.Tenants = resolve(base, cfg.Tenants)
	cfg.Mappings.PostgresDSN = os.ExpandEnv(cfg.Mappings.PostgresDSN)
	cfg.Mappings.RedisURL = os.ExpandEnv(cfg.Mappings.RedisURL)
	return cfg, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
