package tracing

import (
	"context"
	"strings"

	"github.com/Keksclan/onion"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
	grpcStatus "google.golang.org/grpc/status"
)

// Call is a gRPC call flowing through a stack.
type Call interface {
	onion.Carrier
	FullMethod() string
}

// Server returns a middleware that opens the server span of a gRPC call.
// Trace context found in the incoming metadata becomes the span's parent.
func Server[T Call, R any](cfg *Config) onion.Middleware[T, R] {
	if cfg == nil {
		return func(_ T, next onion.Next[R]) (R, error) { return next() }
	}
	return func(args T, next onion.Next[R]) (R, error) {
		parent := args.Context()
		ctx := extract(parent, cfg)
		ctx, span := cfg.tracer().Start(ctx, args.FullMethod(), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		service, method := splitFullMethod(args.FullMethod())
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)

		args.SetContext(ctx)
		out, err := next()
		args.SetContext(parent)

		recordStatus(span, err)
		return out, err
	}
}

// metadataCarrier adapts gRPC [metadata.MD] to the OTel
// [propagation.TextMapCarrier] interface.
type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (mc metadataCarrier) Set(key, value string) {
	metadata.MD(mc).Set(key, value)
}

func (mc metadataCarrier) Keys() []string {
	md := metadata.MD(mc)
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	return keys
}

func extract(ctx context.Context, cfg *Config) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	return cfg.propagators().Extract(ctx, metadataCarrier(md))
}

// splitFullMethod splits "/service/method" into ("service", "method").
func splitFullMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return fullMethod, ""
	}
	return service, method
}

func recordStatus(span trace.Span, err error) {
	st, _ := grpcStatus.FromError(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
	if err != nil {
		recordError(span, err)
		span.SetStatus(codes.Error, st.Message())
		return
	}
	span.SetStatus(codes.Ok, "")
}
