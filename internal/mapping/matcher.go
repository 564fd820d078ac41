package mapping

import (
	"encoding/json"
	"reflect"

	"mapdispatch/internal/event"
)

// Match returns the mappings of ev's tenant whose every condition entry
// equals the event value at that dotted path. A list as expected value
// matches any of its elements. Input order is preserved.
func Match(ev event.Event, mappings []Mapping) []Mapping {
	tenant := ev.Tenant()
	var out []Mapping
	for _, m := range mappings {
		if m.Tenant != "" && m.Tenant != tenant {
			continue
		}
		if matches(ev, m.Condition) {
			out = append(out, m)
		}
	}
	return out
}

func matches(ev event.Event, cond map[string]any) bool {
	for path, want := range cond {
		got, ok := ev.Lookup(path)
		if !ok {
			return false
		}
		if alts, isList := want.([]any); isList {
			if !anyEqual(got, alts) {
				return false
			}
			continue
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

func anyEqual(got any, alts []any) bool {
	for _, a := range alts {
		if equal(got, a) {
			return true
		}
	}
	return false
}

// equal compares JSON-decoded event values with YAML/JSON-decoded condition
// values; numbers compare by value regardless of their Go type.
func equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
