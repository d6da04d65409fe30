package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// L2 is a Redis-backed cache. It fails soft: when Redis is unavailable reads
// report a miss and writes are dropped, so a cache outage never fails a call.
type L2 struct {
	rdb    *redis.Client
	prefix string
	flight flight
}

// NewL2 creates a Redis-backed cache. Keys are stored under prefix.
func NewL2(addr, password string, db int, prefix string) *L2 {
	return NewL2FromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), prefix)
}

// NewL2FromClient wraps an existing client; Close closes it.
func NewL2FromClient(rdb *redis.Client, prefix string) *L2 {
	return &L2{rdb: rdb, prefix: prefix}
}

// Get returns (nil, false, nil) on a miss and when Redis is unreachable.
func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := l.rdb.Get(ctx, l.prefix+key).Bytes()
	if err != nil {
		// redis.Nil is a plain miss; anything else is treated as one too.
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores val under key. Errors are discarded.
func (l *L2) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_ = l.rdb.Set(ctx, l.prefix+key, val, ttl).Err()
	return nil
}

// GetOrSet implements [Cache].
func (l *L2) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := l.Get(ctx, key); ok {
		return v, nil
	}
	return l.flight.do(ctx, key, loader, func(v []byte) {
		_ = l.Set(ctx, key, v, ttl)
	})
}

// Ping checks the Redis connection.
func (l *L2) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (l *L2) Close() error {
	return l.rdb.Close()
}
