package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RistrettoCache is a Cache backed by Ristretto. Every key is stored under
// the configured namespace so several components can share one instance.
type RistrettoCache struct {
	cache     *ristretto.Cache
	namespace string
	group     singleflight.Group
	logger    *zap.Logger
}

// RistrettoConfig holds configuration for Ristretto cache.
type RistrettoConfig struct {
	NumCounters int64 // keys tracked for admission, ~10x max items
	MaxCost     int64 // max items, every entry costs 1
	BufferItems int64
	// Namespace prefixes every key, e.g. "chain:1".
	Namespace string
	Logger    *zap.Logger
}

// NewRistrettoCache creates a new Ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (Cache, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoCache{
		cache:     c,
		namespace: cfg.Namespace,
		logger:    cfg.Logger,
	}, nil
}

func (r *RistrettoCache) key(key string) string {
	if r.namespace == "" {
		return key
	}
	return r.namespace + "/" + key
}

// Get retrieves a value from the cache.
func (r *RistrettoCache) Get(key string) (interface{}, bool) {
	value, found := r.cache.Get(r.key(key))
	if found {
		CacheHitsTotal.Inc()
	} else {
		CacheMissesTotal.Inc()
	}
	r.logger.Debug("cache-lookup", zap.String("key", r.key(key)), zap.Bool("hit", found))
	return value, found
}

// Set stores a value in the cache with a TTL.
func (r *RistrettoCache) Set(key string, value interface{}, ttl time.Duration) bool {
	ok := r.cache.SetWithTTL(r.key(key), value, 1, ttl)
	if ok {
		CacheSetsTotal.Inc()
		r.logger.Debug("cache-set", zap.String("key", r.key(key)), zap.Duration("ttl", ttl))
	}
	return ok
}

// Load implements Cache. The loaded value is returned even when Ristretto
// declines to admit it.
func (r *RistrettoCache) Load(
	ctx context.Context,
	key string,
	ttl time.Duration,
	load LoadFunc,
) (value interface{}, cached bool, err error) {
	if value, ok := r.Get(key); ok {
		return value, true, nil
	}

	value, err, shared := r.group.Do(r.key(key), func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil {
			CacheLoadsTotal.WithLabelValues("error").Inc()
			return nil, err
		}

		CacheLoadsTotal.WithLabelValues("ok").Inc()
		r.Set(key, v, ttl)
		// Make the entry visible to the next Get.
		r.cache.Wait()
		return v, nil
	})
	if shared {
		CacheLoadsSharedTotal.Inc()
	}
	return value, false, err
}

// Delete removes a value from the cache.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(r.key(key))
	CacheDeletesTotal.Inc()
}

// Clear removes all values from the cache, across namespaces.
func (r *RistrettoCache) Clear() {
	r.cache.Clear()
	r.logger.Info("cache-cleared")
}

// Close closes the cache and releases resources.
func (r *RistrettoCache) Close() {
	r.cache.Close()
}

// Metrics returns Ristretto's internal metrics.
func (r *RistrettoCache) Metrics() *ristretto.Metrics {
	return r.cache.Metrics
}

// Wait blocks until buffered writes are applied. Tests call it after Set.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}
