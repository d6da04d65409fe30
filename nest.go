package onion

// Nest turns a composed runner into a middleware of another stack. The outer
// chain's next becomes the runner's terminal continuation, so the nested
// steps run in line with the enclosing ones:
//
//	inner := onion.MustCompose(stackAB)
//	outer := onion.MustCompose([]onion.Middleware[T, R]{onion.Nest(inner), c})
//	// before-order A, B, C; after-order C, B, A
func Nest[T, R any](run Runner[T, R]) Middleware[T, R] {
	if run == nil {
		panic("onion: Nest called with a nil runner")
	}
	return func(args T, next Next[R]) (R, error) {
		return run(args, func(T, Next[R]) (R, error) {
			return next()
		})
	}
}
