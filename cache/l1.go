package cache

import (
	"bytes"
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// L1 is an in-process cache backed by ristretto.
type L1 struct {
	rc     *ristretto.Cache[string, []byte]
	flight flight
}

// NewL1 creates an L1 cache holding up to maxCost entries (each entry costs 1).
func NewL1(maxCost int64) (*L1, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &L1{rc: rc}, nil
}

// Get retrieves a copy of the value stored under key.
func (l *L1) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := l.rc.Get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Set stores a copy of val and waits until it is visible to Get.
func (l *L1) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	l.rc.SetWithTTL(key, bytes.Clone(val), 1, ttl)
	l.rc.Wait()
	return nil
}

// GetOrSet implements [Cache].
func (l *L1) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok, _ := l.Get(ctx, key); ok {
		return v, nil
	}
	return l.flight.do(ctx, key, loader, func(v []byte) {
		_ = l.Set(ctx, key, v, ttl)
	})
}

// Close releases the ristretto goroutines.
func (l *L1) Close() {
	l.rc.Close()
}
