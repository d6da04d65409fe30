package tracing

import (
	"errors"

	"github.com/Keksclan/onion"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Middleware returns a middleware that runs the rest of the stack inside a
// span called name. The span is a child of the span in args.Context().
// Downstream middleware sees the span's context; the caller's context is
// put back on args once next returns.
func Middleware[T onion.Carrier, R any](cfg *Config, name string, attrs ...attribute.KeyValue) onion.Middleware[T, R] {
	if cfg == nil {
		return func(_ T, next onion.Next[R]) (R, error) { return next() }
	}
	return func(args T, next onion.Next[R]) (R, error) {
		parent := args.Context()
		ctx, span := cfg.tracer().Start(parent, name,
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		args.SetContext(ctx)
		out, err := next()
		args.SetContext(parent)

		recordError(span, err)
		return out, err
	}
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	switch {
	case onion.IsPanic(err):
		span.SetAttributes(attribute.Bool("onion.panic", true))
	case errors.Is(err, onion.ErrMultipleNext):
		span.SetAttributes(attribute.Bool("onion.multiple_next", true))
	}
}
