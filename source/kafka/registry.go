package kafka

import "fmt"

// Factory builds an unconfigured Adapter.
type Factory func() Adapter

var registry = map[string]Factory{}

// Register makes a driver available to the pipeline file's source.driver.
// Drivers call it from init.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a fresh driver by name ("sarama").
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q", name)
}
