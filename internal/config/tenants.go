package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"mapdispatch/internal/downstream"
)

const tenantsEnvPrefix = "MAPDISPATCH_TENANTS__"

type tenantEntry struct {
	IngestAPI      string `koanf:"ingest_api"`
	EngineAPIURI   string `koanf:"engine_api_uri"`
	AccessToken    string `koanf:"access_token"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout int    `koanf:"request_timeout"` // seconds
}

// LoadTenants reads the tenants file and overlays env-vars, e.g.
// MAPDISPATCH_TENANTS__TENANTS__ACME__ACCESS_TOKEN. Tenants are returned
// sorted by ID.
func LoadTenants(path string) ([]downstream.Tenant, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("tenants %s: %w", path, err)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return nil, fmt.Errorf("tenants %w %q (want %q)", ErrUnsupportedSchema, sv, SupportedSchema)
	}
	if err := k.Load(env.Provider(tenantsEnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, tenantsEnvPrefix))
	}), nil); err != nil {
		return nil, err
	}

	var entries map[string]tenantEntry
	if err := k.Unmarshal("tenants", &entries); err != nil {
		return nil, fmt.Errorf("tenants: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("tenants: none configured")
	}

	out := make([]downstream.Tenant, 0, len(entries))
	for id, e := range entries {
		if e.IngestAPI == "" && e.EngineAPIURI == "" {
			return nil, fmt.Errorf("tenant %q: ingest_api or engine_api_uri required", id)
		}
		out = append(out, downstream.Tenant{
			ID:             id,
			IngestAPI:      e.IngestAPI,
			EngineAPIURI:   e.EngineAPIURI,
			AccessToken:    e.AccessToken,
			APIKey:         e.APIKey,
			RequestTimeout: time.Duration(e.RequestTimeout) * time.Second,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
