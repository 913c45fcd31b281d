package cache

import (
	"context"
	"sync/atomic"

	gocache "github.com/patrickmn/go-cache"

	"github.com/neexbeast/cityrank/internal/weather"
)

// Store holds cache entries keyed by normalized city name. A stored nil record
// is a negative entry, distinct from a missing key.
type Store interface {
	Lookup(ctx context.Context, key string) (rec *weather.Record, found bool, err error)
	Save(ctx context.Context, key string, rec *weather.Record) error
	// Flush empties the store in one atomic step.
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
}

// MemoryStore keeps entries in a process-local go-cache instance. Flush swaps
// the whole instance, so readers never observe a partially cleared cache.
type MemoryStore struct {
	items atomic.Pointer[gocache.Cache]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.items.Store(newItems())
	return s
}

func newItems() *gocache.Cache {
	// Entries never expire on their own and no janitor goroutine is started.
	return gocache.New(gocache.NoExpiration, 0)
}

// negativeEntry marks a key whose provider lookup came back empty.
type negativeEntry struct{}

// Lookup returns a copy of the stored record; callers may modify it freely.
func (s *MemoryStore) Lookup(_ context.Context, key string) (*weather.Record, bool, error) {
	v, ok := s.items.Load().Get(key)
	if !ok {
		return nil, false, nil
	}
	rec, ok := v.(weather.Record)
	if !ok {
		return nil, true, nil
	}
	return &rec, true, nil
}

// Save stores rec by value, so later changes to *rec do not reach the cache.
func (s *MemoryStore) Save(_ context.Context, key string, rec *weather.Record) error {
	var v any = negativeEntry{}
	if rec != nil {
		v = *rec
	}
	s.items.Load().Set(key, v, gocache.NoExpiration)
	return nil
}

func (s *MemoryStore) Flush(_ context.Context) error {
	s.items.Store(newItems())
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Len returns the number of entries, negative ones included.
func (s *MemoryStore) Len() int {
	return s.items.Load().ItemCount()
}
