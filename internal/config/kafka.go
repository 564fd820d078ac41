package config

import (
	kcfg "mapdispatch/source/kafka"
)

// LoadKafkaConfig delegates to the Kafka source loader so every loader
// entrypoint lives under internal/config.
func LoadKafkaConfig(path string) (kcfg.Config, error) {
	return kcfg.LoadConfig(path)
}
