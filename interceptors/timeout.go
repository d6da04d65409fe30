package interceptors

import (
	"context"
	"time"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/policy"
)

// Timeout returns a middleware that bounds the rest of the stack with the
// timeout of the call's method group, or with fallback for methods whose
// group sets none. A zero duration means no bound. An earlier deadline on
// the incoming context always wins. Once the stack returned, the call is
// back on the incoming deadline and cancellation but keeps the values added
// downstream.
func Timeout[T Call, R any](resolver *policy.Resolver, fallback time.Duration) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		d := fallback
		if m, ok := resolver.Resolve(args.FullMethod()); ok && m.Policy.Timeout > 0 {
			d = m.Policy.Timeout
		}
		if d <= 0 {
			return next()
		}

		parent := args.Context()
		ctx, cancel := context.WithTimeout(parent, d)
		defer cancel()

		args.SetContext(ctx)
		out, err := next()
		args.SetContext(valuesFrom{Context: parent, values: args.Context()})
		return out, err
	}
}

// valuesFrom is parent with the values of a context derived from it.
type valuesFrom struct {
	context.Context
	values context.Context
}

func (c valuesFrom) Value(key any) any { return c.values.Value(key) }
