package interceptors

import (
	"errors"
	"log/slog"

	"github.com/Keksclan/onion"
)

// Recovery returns a middleware that logs panics recovered in the rest of
// the stack, handler included, and replaces them with a codes.Internal
// error so panic values never reach the client.
func Recovery[T Call, R any](logger *slog.Logger) onion.Middleware[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(args T, next onion.Next[R]) (R, error) {
		out, err := next()

		var pe *onion.PanicError
		if errors.As(err, &pe) {
			logger.ErrorContext(args.Context(), "panic recovered",
				slog.String("method", args.FullMethod()),
				slog.Any("panic", pe.Value),
				slog.String("stack", string(pe.Stack)),
			)
			var zero R
			return zero, errInternal
		}
		return out, err
	}
}
