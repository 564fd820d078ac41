package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTenants(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write tenants: %v", err)
	}
	return path
}

func TestLoadTenants(t *testing.T) {
	path := writeTenants(t, `schema_version: v1
tenants:
  zeta:
    ingest_api: http://ingest.zeta
  acme:
    engine_api_uri: http://engine.acme
    request_timeout: 5
`)
	t.Setenv("MAPDISPATCH_TENANTS__TENANTS__ACME__ACCESS_TOKEN", "secret")

	ts, err := LoadTenants(path)
	if err != nil {
		t.Fatalf("LoadTenants: %v", err)
	}
	if len(ts) != 2 || ts[0].ID != "acme" || ts[1].ID != "zeta" {
		t.Fatalf("tenants = %+v", ts)
	}
	if ts[0].AccessToken != "secret" {
		t.Fatalf("env token not applied: %+v", ts[0])
	}
	if ts[0].RequestTimeout != 5*time.Second || ts[1].RequestTimeout != 0 {
		t.Fatalf("timeouts: %v %v", ts[0].RequestTimeout, ts[1].RequestTimeout)
	}
}

func TestLoadTenants_Invalid(t *testing.T) {
	if _, err := LoadTenants(writeTenants(t, "tenants: {}\n")); err == nil {
		t.Fatal("expected error for empty tenants")
	}
	if _, err := LoadTenants(writeTenants(t, "tenants:\n  acme:\n    api_key: k\n")); err == nil {
		t.Fatal("expected error for tenant without endpoints")
	}
	if _, err := LoadTenants(writeTenants(t, "schema_version: v2\ntenants:\n  a:\n    ingest_api: x\n")); err == nil {
		t.Fatal("expected schema error")
	}
}
