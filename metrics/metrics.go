// Package metrics records Prometheus metrics for composed stacks.
package metrics

import (
	"errors"
	"time"

	"github.com/Keksclan/onion"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeError        = "error"
	OutcomePanic        = "panic"
	OutcomeMultipleNext = "multiple_next"
)

// Collector holds the stack metrics. Create it once per registry.
type Collector struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	panics      *prometheus.CounterVec
	violations  *prometheus.CounterVec
}

// NewCollector registers the stack metrics on reg. A nil reg uses
// prometheus.DefaultRegisterer. It panics if the metrics are already
// registered on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_stack_invocations_total",
			Help: "Invocations of a composed stack by outcome",
		}, []string{"stack", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onion_stack_duration_seconds",
			Help:    "Time spent in a composed stack",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stack"}),
		panics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_stack_panics_total",
			Help: "Panics recovered inside a composed stack",
		}, []string{"stack"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "onion_stack_protocol_violations_total",
			Help: "Calls of next after it was already used",
		}, []string{"stack"}),
	}
}

// Outcome classifies the error returned by a stack.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case onion.IsPanic(err):
		return OutcomePanic
	case errors.Is(err, onion.ErrMultipleNext):
		return OutcomeMultipleNext
	default:
		return OutcomeError
	}
}

// Observe records one invocation of stack.
func (c *Collector) Observe(stack string, d time.Duration, err error) {
	outcome := Outcome(err)
	c.invocations.WithLabelValues(stack, outcome).Inc()
	c.duration.WithLabelValues(stack).Observe(d.Seconds())
	switch outcome {
	case OutcomePanic:
		c.panics.WithLabelValues(stack).Inc()
	case OutcomeMultipleNext:
		c.violations.WithLabelValues(stack).Inc()
	}
}

// Middleware returns a middleware that measures the rest of the stack under
// the label stack. Place it first to measure the whole stack.
func Middleware[T, R any](c *Collector, stack string) onion.Middleware[T, R] {
	return func(_ T, next onion.Next[R]) (R, error) {
		start := time.Now()
		out, err := next()
		c.Observe(stack, time.Since(start), err)
		return out, err
	}
}
