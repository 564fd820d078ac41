package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type countingStore struct {
	calls int
	ms    []Mapping
	err   error
}

func (s *countingStore) Load(_ context.Context, _ string) ([]Mapping, error) {
	s.calls++
	return s.ms, s.err
}

type memCache struct {
	data    map[string][]byte
	ttl     time.Duration
	failGet bool
	failSet bool
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	if c.failGet {
		return nil, errors.New("connection refused")
	}
	b, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (c *memCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	if c.failSet {
		return errors.New("read only replica")
	}
	c.data[key], c.ttl = val, ttl
	return nil
}

func TestRetriever_CacheAside(t *testing.T) {
	store := &countingStore{ms: []Mapping{{ID: "m1", Tenant: "t1", Action: Action{PlaybookType: PlaybookTypeEngine}}}}
	cache := &memCache{data: map[string][]byte{}}
	r := NewRetriever(store, cache, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ms, err := r.Get(ctx, "t1", false)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(ms) != 1 || !ms[0].Action.IsPlaybook() {
			t.Fatalf("unexpected mappings: %+v", ms)
		}
	}
	if store.calls != 1 {
		t.Fatalf("store hit %d times, want 1", store.calls)
	}
	if cache.ttl != DefaultCacheTTL {
		t.Fatalf("ttl = %v, want %v", cache.ttl, DefaultCacheTTL)
	}
	if _, ok := cache.data["mapper_id:t1"]; !ok {
		t.Fatalf("cache key not written: %v", cache.data)
	}

	if _, err := r.Get(ctx, "t1", true); err != nil {
		t.Fatalf("forced Get: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("force refresh must bypass cache; store calls = %d", store.calls)
	}
}

func TestRetriever_CacheErrorsAreNotFatal(t *testing.T) {
	store := &countingStore{ms: []Mapping{{ID: "m1", Tenant: "t1"}}}
	cache := &memCache{data: map[string][]byte{}, failGet: true, failSet: true}
	r := NewRetriever(store, cache, time.Minute)

	ms, err := r.Get(context.Background(), "t1", false)
	if err != nil || len(ms) != 1 {
		t.Fatalf("Get = %v, %v", ms, err)
	}
}

func TestRetriever_CorruptEntryFallsBack(t *testing.T) {
	store := &countingStore{ms: []Mapping{{ID: "m1", Tenant: "t1"}}}
	cache := &memCache{data: map[string][]byte{"mapper_id:t1": []byte("{not json")}}
	r := NewRetriever(store, cache, time.Minute)

	if _, err := r.Get(context.Background(), "t1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	var ms []Mapping
	if err := json.Unmarshal(cache.data["mapper_id:t1"], &ms); err != nil || len(ms) != 1 {
		t.Fatalf("corrupt entry was not replaced: %v", err)
	}
}

func TestRetriever_StoreError(t *testing.T) {
	boom := errors.New("db down")
	r := NewRetriever(&countingStore{err: boom}, nil, 0)
	if _, err := r.Get(context.Background(), "t1", false); !errors.Is(err, boom) {
		t.Fatalf("want wrapped store error, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic([]Mapping{{ID: "a", Tenant: "t1"}, {ID: "b", Tenant: "t2"}, {ID: "c", Tenant: "t1"}})
	ms, _ := s.Get(context.Background(), "t1", false)
	if len(ms) != 2 || ms[0].ID != "a" || ms[1].ID != "c" {
		t.Fatalf("unexpected: %+v", ms)
	}
}
