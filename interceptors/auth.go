package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/policy"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrUnauthenticated wraps failures returned by an AuthFunc.
var ErrUnauthenticated = errors.New("interceptors: unauthenticated")

// AuthFunc authenticates a call. It receives the call context, the full
// method name and the incoming metadata. On success it returns the context
// the rest of the stack should see, typically enriched with
// contextx.WithActor.
//
// Token parsing is up to the implementation.
type AuthFunc func(ctx context.Context, fullMethod string, md metadata.MD) (context.Context, error)

// Auth returns a middleware that authenticates calls with fn. With a nil
// resolver every call is authenticated; otherwise only calls whose method
// group has Policy.AuthRequired set.
//
// Status errors from fn are returned unchanged. Other errors are wrapped in
// ErrUnauthenticated.
func Auth[T Call, R any](fn AuthFunc, resolver *policy.Resolver) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		if resolver != nil {
			if m, ok := resolver.Resolve(args.FullMethod()); !ok || !m.Policy.AuthRequired {
				return next()
			}
		}

		ctx := args.Context()
		md, _ := metadata.FromIncomingContext(ctx)
		newCtx, err := fn(ctx, args.FullMethod(), md)
		if err != nil {
			var zero R
			if _, ok := status.FromError(err); ok {
				return zero, err
			}
			return zero, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		if newCtx != nil {
			args.SetContext(newCtx)
		}
		return next()
	}
}
