package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPipelineSpec_ResolvesRelativePathsAndSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v1
source:
  kind: kafka
  driver: sarama
  config: kafka_source.yml
tenants: tenants.yml
dispatch:
  max_concurrency: 8
  retry: { max_retries: 3, base_ms: 1000, floor_ms: 1000 }
mappings:
  postgres_dsn: ${MAPPINGS_DSN}
  static:
    - id: m1
      tenant: acme
      condition: { type: alert }
      action: { playbook_type: aoengine, playbook_id: pb-1 }
dead_letter:
  sinks: [stdout]
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	t.Setenv("MAPPINGS_DSN", "postgres://db/mappings")

	cfg, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err != nil {
		t.Fatalf("LoadPipelineSpec: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if !filepath.IsAbs(cfg.Source.Config) || !filepath.IsAbs(cfg.Tenants) {
		t.Fatalf("want absolute paths, got %q and %q", cfg.Source.Config, cfg.Tenants)
	}
	if cfg.Mappings.PostgresDSN != "postgres://db/mappings" {
		t.Fatalf("dsn not expanded: %q", cfg.Mappings.PostgresDSN)
	}
	if cfg.Dispatch.MaxConcurrency != 8 || cfg.Dispatch.Retry.BaseMS != 1000 {
		t.Fatalf("dispatch section: %+v", cfg.Dispatch)
	}
	if len(cfg.Mappings.Static) != 1 || !cfg.Mappings.Static[0].Action.IsPlaybook() {
		t.Fatalf("static mappings: %+v", cfg.Mappings.Static)
	}
}

func TestLoadPipelineSpec_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v999
source: { kind: kafka, driver: sarama, config: cf.yml }
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if !errors.Is(err, ErrUnsupportedSchema) {
		t.Fatalf("expected ErrUnsupportedSchema, got %v", err)
	}
}
