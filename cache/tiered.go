package cache

import (
	"context"
	"time"
)

// Tiered reads L1, then L2, then the loader, and writes both layers.
type Tiered struct {
	l1     *L1
	l2     *L2
	flight flight
}

// NewTiered creates a two-level cache.
func NewTiered(l1 *L1, l2 *L2) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

// Get checks L1, then L2. An L2 hit is promoted into L1 without a TTL since
// the original TTL is unknown.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = t.l1.Set(ctx, key, v, 0)
	return v, true, nil
}

// Set writes L2 first, then L1.
func (t *Tiered) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_ = t.l2.Set(ctx, key, val, ttl)
	return t.l1.Set(ctx, key, val, ttl)
}

// GetOrSet implements [Cache]. An L2 hit is promoted into L1 with ttl.
func (t *Tiered) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := t.l1.Get(ctx, key); ok {
		return v, nil
	}
	if v, ok, _ := t.l2.Get(ctx, key); ok {
		_ = t.l1.Set(ctx, key, v, ttl)
		return v, nil
	}
	return t.flight.do(ctx, key, loader, func(v []byte) {
		_ = t.Set(ctx, key, v, ttl)
	})
}
