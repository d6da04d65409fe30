package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Keksclan/onion"
)

// errUncacheable is handed to callers sharing a load whose result could not
// be encoded. They compute their own result instead.
var errUncacheable = errors.New("cache: result cannot be encoded")

// Memoize returns a middleware that caches the result of the rest of the
// stack. key derives the cache key from the arguments; when it reports false
// the call bypasses the cache. On a hit the chain is short-circuited and next
// is not called. On a miss next is called once and its encoded result is
// stored for ttl. Failed calls are never cached.
//
// Cache entries that fail to decode are treated as misses.
func Memoize[T onion.Carrier, R any](c Cache, key func(T) (string, bool), codec Codec[R], ttl time.Duration) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		k, ok := key(args)
		if !ok {
			return next()
		}

		ctx := args.Context()
		if b, hit, _ := c.Get(ctx, k); hit {
			v, err := codec.Decode(b)
			if err == nil {
				return v, nil
			}
			return refresh(ctx, c, k, ttl, codec, next)
		}

		var (
			out    R
			loaded bool
		)
		b, err := c.GetOrSet(ctx, k, ttl, func(context.Context) ([]byte, error) {
			v, err := next()
			if err != nil {
				return nil, err
			}
			out, loaded = v, true
			b, err := codec.Encode(v)
			if err != nil {
				return nil, errUncacheable
			}
			return b, nil
		})
		if loaded {
			// This invocation produced the value; an encode failure only
			// means it was not cached.
			return out, nil
		}
		if errors.Is(err, errUncacheable) {
			return next()
		}
		if err != nil {
			var zero R
			return zero, err
		}
		if v, err := codec.Decode(b); err == nil {
			return v, nil
		}
		return next()
	}
}

// refresh replaces an undecodable entry with a freshly computed one.
func refresh[R any](ctx context.Context, c Cache, k string, ttl time.Duration, codec Codec[R], next onion.Next[R]) (R, error) {
	v, err := next()
	if err != nil {
		return v, err
	}
	if b, err := codec.Encode(v); err == nil {
		_ = c.Set(ctx, k, b, ttl)
	}
	return v, nil
}
