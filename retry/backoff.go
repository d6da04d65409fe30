// Package retry retries failing calls with exponential backoff and jitter,
// either as a plain helper ([Do]) or as a retried sub-stack inside an onion
// chain ([Stage]).
package retry

import (
	"math"
	"math/rand"
	"time"
)

// backoff returns the delay for the given attempt (0-indexed) according to
// exponential back-off with optional jitter, capped at cfg.MaxDelay when it
// is set.
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if limit := float64(cfg.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
