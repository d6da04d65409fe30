// Package ratelimit provides a token-bucket limiter backed by
// golang.org/x/time/rate and a middleware that gates a stack on it.
package ratelimit

import (
	"context"
	"errors"

	"github.com/Keksclan/onion"
	"golang.org/x/time/rate"
)

// ErrLimited is returned by Gate when the limiter has no token left.
var ErrLimited = errors.New("ratelimit: rate limit exceeded")

// Limiter wraps a token bucket that decides whether a call may proceed.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps calls per second with the
// given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a single call may proceed now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}

// Gate returns a middleware that rejects the call with ErrLimited when the
// limiter chosen by pick is exhausted. A nil limiter lets the call through.
func Gate[T, R any](pick func(T) *Limiter) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		if l := pick(args); l != nil && !l.Allow() {
			var zero R
			return zero, ErrLimited
		}
		return next()
	}
}

// Global is a Gate that always uses l.
func Global[T, R any](l *Limiter) onion.Middleware[T, R] {
	return Gate[T, R](func(T) *Limiter { return l })
}
