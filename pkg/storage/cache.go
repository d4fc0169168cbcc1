package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto"
	"github.com/vjranagit/sampleby/internal/metrics"
	"github.com/vjranagit/sampleby/pkg/types"
)

// CachedStorage wraps a storage with a result cache for Query and SampleBy.
// Every successful Write invalidates the whole cache.
type CachedStorage struct {
	storage Storage
	cache   *ristretto.Cache
	ttl     time.Duration

	// mu orders inserts against invalidations. generation is bumped by
	// every Write; results computed across a bump are not cached.
	mu         sync.Mutex
	generation atomic.Uint64
	hits       atomic.Uint64
	misses     atomic.Uint64
}

// CacheStats contains cache statistics. The counters survive
// invalidations.
type CacheStats struct {
	Hits   uint64  `json:"hits"`
	Misses uint64  `json:"misses"`
	Ratio  float64 `json:"ratio"`
}

// CacheStatsReporter is implemented by storages that cache results.
type CacheStatsReporter interface {
	CacheStats() CacheStats
}

var _ CacheStatsReporter = (*CachedStorage)(nil)

// NewCachedStorage creates a cached storage wrapper holding up to capacity
// results, each for at most ttl.
func NewCachedStorage(storage Storage, capacity int, ttl time.Duration) (*CachedStorage, error) {
	if capacity <= 0 {
		return nil, errors.Newf("cache capacity must be positive, got %d", capacity)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cache")
	}
	return &CachedStorage{
		storage: storage,
		cache:   cache,
		ttl:     ttl,
	}, nil
}

// Write passes through to the underlying storage and invalidates the cache.
func (cs *CachedStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	err := cs.storage.Write(ctx, req)
	// A failed write may still have applied part of the request.
	cs.mu.Lock()
	cs.generation.Add(1)
	cs.cache.Clear()
	cs.mu.Unlock()
	return err
}

// Query checks the cache before querying storage.
func (cs *CachedStorage) Query(ctx context.Context, req *types.QueryRequest) (*types.QueryResult, error) {
	key, err := cacheKey("q", req)
	if err != nil {
		return nil, err
	}
	if v, ok := cs.lookup(key); ok {
		return v.(*types.QueryResult), nil
	}

	gen := cs.generation.Load()
	result, err := cs.storage.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	cs.store(key, gen, result)
	return result, nil
}

// SampleBy checks the cache before sampling storage.
func (cs *CachedStorage) SampleBy(ctx context.Context, req *types.SampleRequest) (*types.SampleResult, error) {
	key, err := cacheKey("s", req)
	if err != nil {
		return nil, err
	}
	if v, ok := cs.lookup(key); ok {
		return v.(*types.SampleResult), nil
	}

	gen := cs.generation.Load()
	result, err := cs.storage.SampleBy(ctx, req)
	if err != nil {
		return nil, err
	}
	cs.store(key, gen, result)
	return result, nil
}

// Close closes the cache and the underlying storage
func (cs *CachedStorage) Close() error {
	cs.cache.Close()
	return cs.storage.Close()
}

func (cs *CachedStorage) lookup(key string) (interface{}, bool) {
	v, ok := cs.cache.Get(key)
	if ok {
		cs.hits.Add(1)
		metrics.CacheRequests.WithLabelValues("hit").Inc()
	} else {
		cs.misses.Add(1)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
	}
	return v, ok
}

func (cs *CachedStorage) store(key string, gen uint64, v interface{}) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.generation.Load() != gen {
		return
	}
	cs.cache.SetWithTTL(key, v, 1, cs.ttl)
	// Make the result visible to the next Get.
	cs.cache.Wait()
}

// cacheKey builds a deterministic key from a request.
func cacheKey(kind string, req interface{}) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to build cache key")
	}
	return kind + string(data), nil
}

// CacheStats returns the hit and miss counts since the cache was created.
func (cs *CachedStorage) CacheStats() CacheStats {
	stats := CacheStats{
		Hits:   cs.hits.Load(),
		Misses: cs.misses.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.Ratio = float64(stats.Hits) / float64(total)
	}
	return stats
}
