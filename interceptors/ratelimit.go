package interceptors

import (
	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/policy"
	"github.com/Keksclan/onion/ratelimit"
)

// RateLimit returns a middleware that rejects calls with ratelimit.ErrLimited
// once the applicable limiter is exhausted. A method whose group carries a
// rate-limit policy uses that group's limiter; every other method uses
// global. Both resolver and global may be nil.
func RateLimit[T Call, R any](global *ratelimit.Limiter, resolver *policy.Resolver) onion.Middleware[T, R] {
	return ratelimit.Gate[T, R](func(c T) *ratelimit.Limiter {
		if l := resolver.Limiter(c.FullMethod()); l != nil {
			return l
		}
		return global
	})
}
