package retry

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/Keksclan/onion"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config controls the retry behaviour of [Do] and [Stage].
type Config struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	// Values ≤ 1 mean no retries.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Later retries wait
	// BaseDelay * 2^attempt.
	BaseDelay time.Duration

	// MaxDelay caps the computed back-off delay.
	MaxDelay time.Duration

	// Jitter adds randomness to the delay. 0.2 means ±20 %. Zero disables it.
	Jitter float64

	// RetryCodes lists the gRPC status codes that are retried when RetryIf
	// is nil.
	RetryCodes []codes.Code

	// RetryIf overrides RetryCodes with an arbitrary predicate.
	RetryIf func(error) bool
}

// retryable reports whether err may be retried. Panics and protocol
// violations are bugs, not transient failures, and never are.
func (c Config) retryable(err error) bool {
	if onion.IsPanic(err) || errors.Is(err, onion.ErrMultipleNext) {
		return false
	}
	if c.RetryIf != nil {
		return c.RetryIf(err)
	}
	st, ok := status.FromError(err)
	return ok && slices.Contains(c.RetryCodes, st.Code())
}

// Do calls fn up to cfg.MaxAttempts times while it fails with a retryable
// error, sleeping with exponential back-off in between. ctx is checked
// before every retry; once it is done Do returns ctx.Err().
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)

	for i := range attempts {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if i == attempts-1 || !cfg.retryable(err) {
			return zero, err
		}

		timer := time.NewTimer(backoff(cfg, i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, nil
}

// Stage runs the composed sub-stack run as one retried step of an enclosing
// stack. Every attempt is a fresh invocation of run without a terminal
// continuation; once an attempt succeeds the enclosing chain continues with
// next, whose result the stage returns. The enclosing next is therefore
// called at most once no matter how many attempts were made.
func Stage[T onion.Carrier, R any](run onion.Runner[T, R], cfg Config) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		_, err := Do(args.Context(), cfg, func(context.Context) (R, error) {
			return run(args, nil)
		})
		if err != nil {
			var zero R
			return zero, err
		}
		return next()
	}
}
