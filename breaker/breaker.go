// Package breaker provides a small thread-safe circuit breaker and a
// middleware that guards the rest of a stack with it.
//
// States:
//   - Closed: calls flow; consecutive failures are counted.
//   - Open: calls fail fast with ErrOpen until OpenTimeout has elapsed.
//   - HalfOpen: up to HalfOpenMaxSuccess probes are let through; that many
//     successes close the breaker, any failure opens it again.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/Keksclan/onion"
)

// ErrOpen is returned by Middleware while the breaker rejects calls.
var ErrOpen = errors.New("breaker: circuit open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// that trips the breaker.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open before probing.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of successful probes needed to close
	// the breaker again. Values ≤ 0 mean 1.
	HalfOpenMaxSuccess int

	// OnStateChange, if set, is called after every transition. It runs
	// outside the breaker lock.
	OnStateChange func(from, to State)
}

// Breaker is a circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
	nowFunc   func() time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.HalfOpenMaxSuccess <= 0 {
		cfg.HalfOpenMaxSuccess = 1
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// State returns the current state, moving Open to HalfOpen when the open
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	change := b.expire()
	s := b.state
	b.mu.Unlock()

	b.notify(change)
	return s
}

// Allow reports whether a call may go through right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	change := b.expire()
	var ok bool
	switch b.state {
	case Closed:
		ok = true
	case HalfOpen:
		ok = b.successes < b.cfg.HalfOpenMaxSuccess
	}
	b.mu.Unlock()

	b.notify(change)
	return ok
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	var change *transition
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			change = b.moveTo(Closed)
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	var change *transition
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			change = b.moveTo(Open)
		}
	case HalfOpen:
		change = b.moveTo(Open)
	}
	b.mu.Unlock()

	b.notify(change)
}

type transition struct{ from, to State }

// expire moves Open to HalfOpen once the timeout elapsed. b.mu must be held.
func (b *Breaker) expire() *transition {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		return b.moveTo(HalfOpen)
	}
	return nil
}

// moveTo changes state and resets counters. b.mu must be held.
func (b *Breaker) moveTo(s State) *transition {
	t := &transition{from: b.state, to: s}
	b.state = s
	b.failures = 0
	b.successes = 0
	if s == Open {
		b.openedAt = b.now()
	}
	return t
}

func (b *Breaker) notify(t *transition) {
	if t != nil && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(t.from, t.to)
	}
}

func (b *Breaker) now() time.Time {
	if b.nowFunc != nil {
		return b.nowFunc()
	}
	return time.Now()
}

// Middleware guards the rest of the stack with b. isFailure classifies the
// downstream error; nil counts every non-nil error as a failure. Protocol
// errors such as onion.ErrMultipleNext are never counted.
func Middleware[T, R any](b *Breaker, isFailure func(error) bool) onion.Middleware[T, R] {
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	return func(_ T, next onion.Next[R]) (R, error) {
		if !b.Allow() {
			var zero R
			return zero, ErrOpen
		}

		out, err := next()
		switch {
		case errors.Is(err, onion.ErrMultipleNext):
		case isFailure(err):
			b.OnFailure()
		default:
			b.OnSuccess()
		}
		return out, err
	}
}
