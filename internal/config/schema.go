package config

import "mapdispatch/internal/mapping"

// File is the pipeline file.
type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	// Tenants is the path of the tenants file.
	Tenants string `yaml:"tenants"`

	Dispatch   DispatchSection   `yaml:"dispatch"`
	Mappings   MappingsSection   `yaml:"mappings"`
	DeadLetter DeadLetterSection `yaml:"dead_letter"`
	Breaker    BreakerSection    `yaml:"breaker"`
	Service    ServiceSection    `yaml:"service"`
}

type DispatchSection struct {
	MaxConcurrency    int `yaml:"max_concurrency"`
	WaveSize          int `yaml:"wave_size"`
	MinWaveIntervalMS int `yaml:"min_wave_interval_ms"`
	Retry             struct {
		MaxRetries int `yaml:"max_retries"`
		BaseMS     int `yaml:"base_ms"`
		FloorMS    int `yaml:"floor_ms"`
	} `yaml:"retry"`
}

// MappingsSection selects where mappings come from. Static mappings win over
// the postgres store when both are present.
type MappingsSection struct {
	Static      []mapping.Mapping `yaml:"static"`
	PostgresDSN string            `yaml:"postgres_dsn"` // env references are expanded
	RedisURL    string            `yaml:"redis_url"`
	CacheTTLS   int               `yaml:"cache_ttl_s"`
	RefreshS    int               `yaml:"refresh_s"` // reload period per tenant

	// ForceRefresh makes every reload skip the cache.
	ForceRefresh bool `yaml:"force_refresh"`
}

type DeadLetterSection struct {
	Sinks  []string `yaml:"sinks"`
	Kafka  struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int16    `yaml:"required_acks"`
		Version      string   `yaml:"version"`
	} `yaml:"kafka"`
	Stdout struct {
		Pretty bool `yaml:"pretty"`
	} `yaml:"stdout"`
}

type BreakerSection struct {
	Enabled             bool   `yaml:"enabled"`
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
	MaxRequests         uint32 `yaml:"max_requests"`
	IntervalS           int    `yaml:"interval_s"`
	OpenTimeoutS        int    `yaml:"open_timeout_s"`
}

type ServiceSection struct {
	GRPCPort    int `yaml:"grpc_port"`
	MetricsPort int `yaml:"metrics_port"`
}
