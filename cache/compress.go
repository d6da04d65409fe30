package cache

import (
	"context"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Compressed stores values zstd-compressed in an underlying Cache. It pays
// off for large responses kept in Redis.
type Compressed struct {
	c   Cache
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCompressed wraps c.
func NewCompressed(c Cache) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Compressed{c: c, enc: enc, dec: dec}, nil
}

// Get implements [Cache]. Entries that fail to decompress are misses.
func (z *Compressed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := z.c.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	out, err := z.dec.DecodeAll(v, nil)
	if err != nil {
		return nil, false, nil
	}
	return out, true, nil
}

// Set implements [Cache].
func (z *Compressed) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return z.c.Set(ctx, key, z.compress(val), ttl)
}

// GetOrSet implements [Cache]. The caller whose loader ran gets the
// uncompressed value directly.
func (z *Compressed) GetOrSet(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) ([]byte, error)) ([]byte, error) {
	var loaded []byte
	v, err := z.c.GetOrSet(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		raw, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		loaded = raw
		return z.compress(raw), nil
	})
	if err != nil {
		return nil, err
	}
	if loaded != nil {
		return loaded, nil
	}

	out, err := z.dec.DecodeAll(v, nil)
	if err == nil {
		return out, nil
	}
	raw, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	_ = z.Set(ctx, key, raw, ttl)
	return raw, nil
}

// Close releases the encoder and decoder. The wrapped cache stays open.
func (z *Compressed) Close() {
	z.enc.Close()
	z.dec.Close()
}

func (z *Compressed) compress(val []byte) []byte {
	return z.enc.EncodeAll(val, make([]byte, 0, len(val)/2))
}
