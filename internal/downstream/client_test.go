package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mapdispatch/internal/event"
	"mapdispatch/internal/logging"
	"mapdispatch/internal/mapping"
	"mapdispatch/internal/result"
)

func playbookMapping(id string) mapping.Mapping {
	return mapping.Mapping{ID: id, Tenant: "t1", Action: mapping.Action{PlaybookType: mapping.PlaybookTypeEngine}}
}

func sampleEvent() event.Event {
	return event.Event{"tenant": "t1", "data": map[string]any{"playbook_id": "pb-1"}}
}

type recorded struct {
	path   string
	header http.Header
	body   map[string]any
}

func engine(t *testing.T, status int, hits *int32, last *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if last != nil {
			last.path, last.header = r.URL.Path, r.Header.Clone()
			last.body = nil
			_ = json.NewDecoder(r.Body).Decode(&last.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_PlaybookSucceeds(t *testing.T) {
	var hits int32
	var got recorded
	srv := engine(t, http.StatusOK, &hits, &got)
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL + "/", AccessToken: "tok"})

	ev := sampleEvent()
	if res := c.Dispatch(context.Background(), ev, playbookMapping("m1")); res != result.Succeed {
		t.Fatalf("result = %s, want SUCCEED", res)
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
	if got.path != "/t1/engine/_run_playbook" {
		t.Fatalf("path = %q", got.path)
	}
	if got.body["playbook_id"] != "pb-1" {
		t.Fatalf("playbook_id = %v", got.body["playbook_id"])
	}
	if _, ok := got.body["config_id"]; ok {
		t.Fatal("config_id must be omitted when unresolved")
	}
	in := got.body["input_event"].(map[string]any)
	if in["extra_info"].(map[string]any)["mapping_id"] != "m1" {
		t.Fatalf("extra_info not attached: %v", in)
	}
	if _, ok := ev[event.KeyExtraInfo]; ok {
		t.Fatal("caller's event was mutated")
	}
	if got.header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("Authorization = %q", got.header.Get("Authorization"))
	}
}

func TestDispatch_ExplicitArgumentsWin(t *testing.T) {
	var hits int32
	var got recorded
	srv := engine(t, http.StatusOK, &hits, &got)
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL})

	m := playbookMapping("m1")
	m.Action.PlaybookID, m.Action.ConfigID = "pb-explicit", "cfg-9"
	m.Action.TargetData = map[string]any{"source": "mapping"}
	c.Dispatch(context.Background(), sampleEvent(), m)

	if got.body["playbook_id"] != "pb-explicit" || got.body["config_id"] != "cfg-9" {
		t.Fatalf("unexpected body: %v", got.body)
	}
	data := got.body["input_event"].(map[string]any)["data"].(map[string]any)
	if data["source"] != "mapping" {
		t.Fatalf("target_data not merged: %v", data)
	}
}

func TestDispatch_NoPlaybookIsInvalidWithoutNetwork(t *testing.T) {
	var hits int32
	srv := engine(t, http.StatusOK, &hits, nil)
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL})

	ev := event.Event{"tenant": "t1", "data": map[string]any{}}
	if res := c.Dispatch(context.Background(), ev, playbookMapping("m1")); res != result.InvalidEvent {
		t.Fatalf("result = %s, want INVALID_EVENT", res)
	}
	if hits != 0 {
		t.Fatalf("hits = %d, want 0", hits)
	}
}

func TestDispatch_Ingestion(t *testing.T) {
	var hits int32
	var got recorded
	srv := engine(t, http.StatusOK, &hits, &got)
	c := NewClient(Tenant{ID: "t1", IngestAPI: srv.URL + "/ingest", AccessToken: "tok", APIKey: "key"})

	m := mapping.Mapping{ID: "m2", Tenant: "t1", Action: mapping.Action{PlaybookType: "orenctl", Params: map[string]any{"index": "alerts"}}}
	if res := c.Dispatch(context.Background(), sampleEvent(), m); res != result.Succeed {
		t.Fatalf("result = %s", res)
	}
	if got.path != "/ingest" {
		t.Fatalf("path = %q", got.path)
	}
	for k, want := range map[string]string{"Authorization": "Bearer tok", "X-API-KEY": "key", "Tenant": "t1"} {
		if got.header.Get(k) != want {
			t.Fatalf("%s = %q, want %q", k, got.header.Get(k), want)
		}
	}
	if got.body["mapping_id"] != "m2" || got.body["params"].(map[string]any)["index"] != "alerts" {
		t.Fatalf("unexpected payload: %v", got.body)
	}
}

func TestDispatch_IngestionWithoutTenantHeader(t *testing.T) {
	var hits int32
	var got recorded
	srv := engine(t, http.StatusOK, &hits, &got)
	c := NewClient(Tenant{ID: "t1", IngestAPI: srv.URL, APIKey: "key"})

	m := mapping.Mapping{ID: "m2", Action: mapping.Action{PlaybookType: "orenctl"}}
	c.Dispatch(context.Background(), sampleEvent(), m)
	if v := got.header.Get("Tenant"); v != "" {
		t.Fatalf("Tenant header = %q, want none", v)
	}
}

func TestDispatch_StatusClassification(t *testing.T) {
	cases := map[int]result.Result{
		http.StatusOK:                  result.Succeed,
		http.StatusInternalServerError: result.EngineInternalError,
		http.StatusNotFound:            result.UndefinedError,
		http.StatusBadGateway:          result.UndefinedError,
		http.StatusAccepted:            result.UndefinedError,
	}
	for code, want := range cases {
		var hits int32
		srv := engine(t, code, &hits, nil)
		c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL})
		if got := c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m")); got != want {
			t.Fatalf("status %d: got %s, want %s", code, got, want)
		}
	}
}

func TestDispatch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL, RequestTimeout: 50 * time.Millisecond})

	if got := c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m")); got != result.Timeout {
		t.Fatalf("got %s, want TIMEOUT", got)
	}
}

func TestDispatch_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: addr})

	if got := c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m")); got != result.EngineConnectionError {
		t.Fatalf("got %s, want ENGINE_CONNECTION_ERROR", got)
	}
}

func TestDispatch_CanceledParentIsUndefined(t *testing.T) {
	var hits int32
	srv := engine(t, http.StatusOK, &hits, nil)
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := c.Dispatch(ctx, sampleEvent(), playbookMapping("m")); got != result.UndefinedError {
		t.Fatalf("got %s, want UNDEFINED_ERROR", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := engine(t, http.StatusInternalServerError, &hits, nil)
	var opened atomic.Bool
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: srv.URL},
		WithBreaker(BreakerConfig{Enabled: true, ConsecutiveFailures: 2, OpenTimeout: time.Minute}, func(open bool) { opened.Store(open) }))

	for i := 0; i < 2; i++ {
		if got := c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m")); got != result.EngineInternalError {
			t.Fatalf("call %d: got %s", i, got)
		}
	}
	if got := c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m")); got != result.EngineConnectionError {
		t.Fatalf("open breaker: got %s, want ENGINE_CONNECTION_ERROR", got)
	}
	if hits != 2 {
		t.Fatalf("hits = %d; open breaker must not reach the engine", hits)
	}
	if !opened.Load() {
		t.Fatal("state hook not notified")
	}
}

func TestLogsOmitCredentials(t *testing.T) {
	prev := logging.L()
	defer logging.Set(prev)
	var buf bytes.Buffer
	logging.Set(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var hits int32
	srv := engine(t, http.StatusInternalServerError, &hits, nil)
	u := strings.Replace(srv.URL, "http://", "http://user:hunter2@", 1)
	c := NewClient(Tenant{ID: "t1", EngineAPIURI: u, AccessToken: "s3cr3t-token", APIKey: "s3cr3t-key"})
	c.Dispatch(context.Background(), sampleEvent(), playbookMapping("m"))

	out := buf.String()
	for _, secret := range []string{"s3cr3t-token", "s3cr3t-key", "hunter2"} {
		if strings.Contains(out, secret) {
			t.Fatalf("log leaked %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "state=ERROR") || !strings.Contains(out, "status=500") {
		t.Fatalf("expected structured error record, got:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	short := "abc"
	if truncate(short) != short {
		t.Fatal("short strings must pass through")
	}
	long := strings.Repeat("é", 80) // 160 bytes
	got := truncate(long)
	if !strings.HasSuffix(got, "...") || len(got) > logSnippet+3 {
		t.Fatalf("bad truncation: %q", got)
	}
	if !strings.HasPrefix(long, strings.TrimSuffix(got, "...")) {
		t.Fatal("truncation split a rune")
	}
}
