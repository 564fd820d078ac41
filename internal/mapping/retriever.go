package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mapdispatch/internal/logging"
)

// DefaultCacheTTL bounds how stale a cached mapping set may get.
const DefaultCacheTTL = time.Hour

var ErrCacheMiss = errors.New("mapping: cache miss")

// Store is the durable mapping table.
type Store interface {
	Load(ctx context.Context, tenant string) ([]Mapping, error)
}

// Cache is a byte-level key/value cache with expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

func CacheKey(tenant string) string { return "mapper_id:" + tenant }

// Retriever reads through the cache to the store. Cache failures are logged
// and never fail a lookup.
type Retriever struct {
	store Store
	cache Cache
	ttl   time.Duration
}

// NewRetriever builds a Retriever; cache may be nil and ttl <= 0 selects
// DefaultCacheTTL.
func NewRetriever(store Store, cache Cache, ttl time.Duration) *Retriever {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Retriever{store: store, cache: cache, ttl: ttl}
}

func (r *Retriever) Get(ctx context.Context, tenant string, forceRefresh bool) ([]Mapping, error) {
	key := CacheKey(tenant)
	if r.cache != nil && !forceRefresh {
		if ms, ok := r.fromCache(ctx, key); ok {
			return ms, nil
		}
	}

	ms, err := r.store.Load(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("mapping: load tenant %s: %w", tenant, err)
	}

	if r.cache != nil {
		raw, err := json.Marshal(ms)
		if err == nil {
			err = r.cache.Set(ctx, key, raw, r.ttl)
		}
		if err != nil {
			logging.L().Warn("mapping cache write failed", "tenant", tenant, "error", err)
		}
	}
	logging.L().Debug("mappings loaded from store", "tenant", tenant, "count", len(ms), "forced", forceRefresh)
	return ms, nil
}

func (r *Retriever) fromCache(ctx context.Context, key string) ([]Mapping, bool) {
	raw, err := r.cache.Get(ctx, key)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return nil, false
	case err != nil:
		logging.L().Warn("mapping cache read failed", "key", key, "error", err)
		return nil, false
	}
	var ms []Mapping
	if err := json.Unmarshal(raw, &ms); err != nil {
		logging.L().Warn("mapping cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return ms, true
}
