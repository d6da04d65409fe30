package interceptors

import (
	"log/slog"
	"time"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/contextx"
	"google.golang.org/grpc/codes"
)

// Logging returns a middleware that logs one line per call once the rest of
// the stack returned. Successful calls log at Info, client errors at Warn
// and server errors at Error.
func Logging[T Call, R any](logger *slog.Logger) onion.Middleware[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(args T, next onion.Next[R]) (R, error) {
		start := time.Now()
		out, err := next()

		ctx := args.Context()
		code := Code(err)
		attrs := []slog.Attr{
			slog.String("method", args.FullMethod()),
			slog.String("code", code.String()),
			slog.Duration("duration", time.Since(start)),
		}
		if id := contextx.RequestIDFromContext(ctx); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}
		if g := contextx.GroupFromContext(ctx); g != "" {
			attrs = append(attrs, slog.String("group", g))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}

		logger.LogAttrs(ctx, levelFor(code), "call finished", attrs...)
		return out, err
	}
}

func levelFor(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
