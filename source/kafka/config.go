package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"mapdispatch/internal/offset"
)

type InFlightCfg struct {
	Capacity int64 `koanf:"capacity"` // records being dispatched across all partitions
}

type CheckpointCfg struct {
	CommitInt    time.Duration `koanf:"commit_interval"` // commit window per partition
	IdleFlush    time.Duration `koanf:"idle_flush"`      // how often idle partitions check for due commits
	FailurePause time.Duration `koanf:"failure_pause"`   // pause after a failed commit
	Urgency      time.Duration `koanf:"urgency"`         // time left below which a settled record commits at once
}

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topics    []string `koanf:"topics"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default newest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	InFlight   InFlightCfg   `koanf:"in_flight"`
	Checkpoint CheckpointCfg `koanf:"checkpoint"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `MAPDISPATCH_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider("MAPDISPATCH_KAFKA__", "__", envKey("MAPDISPATCH_KAFKA__")), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.validate()
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.InFlight.Capacity <= 0 {
		c.InFlight.Capacity = 64
	}
	if c.Checkpoint.CommitInt == 0 {
		c.Checkpoint.CommitInt = offset.DefaultCommitInterval
	}
	if c.Checkpoint.IdleFlush == 0 {
		c.Checkpoint.IdleFlush = time.Second
	}
	if c.Checkpoint.FailurePause == 0 {
		c.Checkpoint.FailurePause = offset.DefaultFailurePause
	}
	if c.Checkpoint.Urgency == 0 {
		c.Checkpoint.Urgency = offset.DefaultUrgency
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
}

func (c Config) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New("kafka: brokers required")
	case len(c.Topics) == 0:
		return errors.New("kafka: topics required")
	case c.GroupID == "":
		return errors.New("kafka: group_id required")
	}
	return nil
}
