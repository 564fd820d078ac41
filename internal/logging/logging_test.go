package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigureJSON(t *testing.T) {
	prev := L()
	defer Set(prev)

	var buf bytes.Buffer
	Configure(Options{Level: "debug", JSON: true, Output: &buf})
	L().Debug("commit", "partition", 3, "offset", 42)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "commit" || rec["offset"] != float64(42) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestInitFromEnv(t *testing.T) {
	prev := L()
	defer Set(prev)

	t.Setenv("MAPDISPATCH_LOG_LEVEL", "error")
	t.Setenv("MAPDISPATCH_LOG_JSON", "true")
	InitFromEnv()
	if L().Enabled(context.Background(), slog.LevelWarn) {
		t.Fatal("warn should be disabled at error level")
	}
}
