// Package logging holds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	envLevel = "MAPDISPATCH_LOG_LEVEL"
	envJSON  = "MAPDISPATCH_LOG_JSON"
)

type Options struct {
	Level string // debug|info|warn|error
	JSON  bool
	// Output defaults to stderr.
	Output io.Writer
}

var current atomic.Pointer[slog.Logger]

func init() { current.Store(New(Options{})) }

// New builds a logger without installing it.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: parseLevel(opts.Level)}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, ho))
	}
	return slog.New(slog.NewTextHandler(out, ho))
}

// Configure installs a logger built from opts.
func Configure(opts Options) { current.Store(New(opts)) }

// Set swaps the process logger; tests use it to capture records.
func Set(l *slog.Logger) {
	if l != nil {
		current.Store(l)
	}
}

func L() *slog.Logger { return current.Load() }

// InitFromEnv configures from MAPDISPATCH_LOG_LEVEL and MAPDISPATCH_LOG_JSON.
func InitFromEnv() {
	json, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(envJSON)))
	Configure(Options{Level: os.Getenv(envLevel), JSON: json})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
