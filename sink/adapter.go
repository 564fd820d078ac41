// Package sink publishes dead letters: records whose dispatch ended in a
// terminal failure, kept for inspection and replay.
package sink

import (
	"context"
	"fmt"
	"time"

	"mapdispatch/internal/event"
	"mapdispatch/internal/result"
)

type DeadLetter struct {
	Tenant    string        `json:"tenant"`
	MappingID string        `json:"mapping_id,omitempty"`
	Result    result.Result `json:"result"`
	Attempts  int           `json:"attempts"`
	Error     string        `json:"error,omitempty"`
	Topic     string        `json:"topic"`
	Partition int32         `json:"partition"`
	Offset    int64         `json:"offset"`
	FailedAt  time.Time     `json:"failed_at"`
	Event     event.Event   `json:"event,omitempty"`
	// Raw holds the consumed value when it could not be decoded.
	Raw []byte `json:"raw,omitempty"`
}

// Adapter is the common behaviour every dead-letter sink exposes.
type Adapter interface {
	Configure(any) error // driver-specific config struct
	Push(context.Context, DeadLetter) error
	Close() error // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
