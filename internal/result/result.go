// Package result holds the closed vocabulary every dispatch attempt is
// classified into.
package result

import "fmt"

type Result int

const (
	Succeed Result = iota
	InvalidEvent
	EngineInternalError
	EngineConnectionError
	Timeout
	UndefinedError
)

var names = [...]string{
	Succeed:               "SUCCEED",
	InvalidEvent:          "INVALID_EVENT",
	EngineInternalError:   "ENGINE_INTERNAL_ERROR",
	EngineConnectionError: "ENGINE_CONNECTION_ERROR",
	Timeout:               "TIMEOUT",
	UndefinedError:        "UNDEFINED_ERROR",
}

// All lists every result in declaration order.
var All = []Result{Succeed, InvalidEvent, EngineInternalError, EngineConnectionError, Timeout, UndefinedError}

func (r Result) String() string {
	if r < 0 || int(r) >= len(names) {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return names[r]
}

// Retryable reports whether r is a transient downstream fault.
func (r Result) Retryable() bool {
	switch r {
	case EngineInternalError, EngineConnectionError, Timeout:
		return true
	}
	return false
}

func (r Result) Terminal() bool { return !r.Retryable() }

func (r Result) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(names) {
		return nil, fmt.Errorf("result: unknown value %d", int(r))
	}
	return []byte(names[r]), nil
}

func (r *Result) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func Parse(s string) (Result, error) {
	for i, n := range names {
		if n == s {
			return Result(i), nil
		}
	}
	return UndefinedError, fmt.Errorf("result: unknown name %q", s)
}
