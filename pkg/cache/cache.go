package cache

import (
	"context"
	"time"
)

// LoadFunc produces the value for a missing key.
type LoadFunc func(ctx context.Context) (interface{}, error)

// Cache is a TTL key-value cache.
type Cache interface {
	// Get returns (value, true) for a live entry and (nil, false) otherwise.
	Get(key string) (interface{}, bool)

	// Set stores a value with a TTL. Ristretto may drop the write, so a
	// false return is not an error.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Load returns the live entry for key or calls load once, however many
	// goroutines ask concurrently, and caches its result for ttl.
	Load(ctx context.Context, key string, ttl time.Duration, load LoadFunc) (value interface{}, cached bool, err error)

	Delete(key string)
	Clear()
	Close()
}
