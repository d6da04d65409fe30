package interceptors

import (
	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/contextx"
	"github.com/Keksclan/onion/policy"
)

// Groups returns a middleware that runs the composed stack registered for
// the call's method group as a nested part of the enclosing stack: the
// group's middleware runs in order, then the enclosing stack continues. The
// group name is recorded with contextx.WithGroup. Calls without a group, or
// whose group has no stack, continue directly.
func Groups[T Call, R any](resolver *policy.Resolver, stacks map[string]onion.Runner[T, R]) onion.Middleware[T, R] {
	nested := make(map[string]onion.Middleware[T, R], len(stacks))
	for name, run := range stacks {
		if run != nil {
			nested[name] = onion.Nest(run)
		}
	}

	return func(args T, next onion.Next[R]) (R, error) {
		m, ok := resolver.Resolve(args.FullMethod())
		if !ok {
			return next()
		}
		args.SetContext(contextx.WithGroup(args.Context(), m.Group))
		if mw, ok := nested[m.Group]; ok {
			return mw(args, next)
		}
		return next()
	}
}
