// Package event models the inbound stream payload.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

const (
	KeyTenant    = "tenant"
	KeyData      = "data"
	KeyExtraInfo = "extra_info"
)

var (
	ErrNoTenant = errors.New("event: missing tenant")
	ErrNoData   = errors.New("event: missing data object")
)

// Event is an arbitrary JSON object carrying at least a tenant and a data
// object. Values handed to dispatch tasks are treated as read-only; use
// WithExtraInfo / WithData to derive a per-task copy.
type Event map[string]any

// Decode parses a raw stream value and checks the required fields.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	if ev == nil {
		return nil, errors.New("event: not an object")
	}
	if ev.Tenant() == "" {
		return ev, ErrNoTenant
	}
	if _, ok := ev[KeyData].(map[string]any); !ok {
		return ev, ErrNoData
	}
	return ev, nil
}

func (e Event) Tenant() string {
	s, _ := e[KeyTenant].(string)
	return s
}

// Data returns the nested data object, or nil.
func (e Event) Data() map[string]any {
	d, _ := e[KeyData].(map[string]any)
	return d
}

// DataString returns data[key] when it is a non-empty string.
func (e Event) DataString(key string) string {
	s, _ := e.Data()[key].(string)
	return s
}

// WithExtraInfo returns a shallow copy with extra_info replaced.
func (e Event) WithExtraInfo(info map[string]any) Event {
	out := maps.Clone(e)
	if out == nil {
		out = Event{}
	}
	out[KeyExtraInfo] = info
	return out
}

// WithData returns a copy whose data object has extra merged over it. The
// receiver's data map is left untouched.
func (e Event) WithData(extra map[string]any) Event {
	out := maps.Clone(e)
	if out == nil {
		out = Event{}
	}
	if len(extra) == 0 {
		return out
	}
	data := maps.Clone(e.Data())
	if data == nil {
		data = make(map[string]any, len(extra))
	}
	maps.Copy(data, extra)
	out[KeyData] = data
	return out
}

// Lookup resolves a dotted path such as "data.severity".
func (e Event) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	return resolve(map[string]any(e), strings.Split(path, "."))
}

func resolve(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	switch next := v.(type) {
	case map[string]any:
		return resolve(next, path[1:])
	case Event:
		return resolve(next, path[1:])
	}
	return nil, false
}
