// Package cache provides the caching layers behind the Memoize middleware:
// an in-process L1 backed by ristretto, a Redis L2 and a tiered combination.
package cache

import (
	"bytes"
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is the caching contract used by Memoize.
type Cache interface {
	// Get retrieves a value by key. The boolean indicates a cache hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value under key with the given TTL. A zero TTL means the
	// entry has no automatic expiration.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// GetOrSet returns the cached value for key. On a miss it calls loader
	// once, even for concurrent callers of the same key, stores the result
	// and returns it.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error)
}

// flight deduplicates concurrent loads of the same key.
type flight struct {
	group singleflight.Group
}

// do runs load for key unless a load for key is already in flight, in which
// case it waits for that one. store is called with successful results before
// waiters are released. Every caller gets its own copy of the value.
func (f *flight) do(ctx context.Context, key string, load func(context.Context) ([]byte, error), store func([]byte)) ([]byte, error) {
	v, err, _ := f.group.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		store(val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}
