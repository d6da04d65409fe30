package interceptors

import (
	"context"

	"github.com/Keksclan/onion"
	"google.golang.org/grpc"
)

// ChainUnary composes stack into a single unary interceptor. The handler
// runs as the terminal continuation with the call's current context and
// request. An empty stack yields a nil interceptor.
func ChainUnary(stack []UnaryMiddleware) (grpc.UnaryServerInterceptor, error) {
	if len(stack) == 0 {
		return nil, nil
	}
	run, err := onion.Compose(stack)
	if err != nil {
		return nil, err
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return run(NewUnaryCall(ctx, req, info), func(c *UnaryCall, _ onion.Next[any]) (any, error) {
			return handler(c.ctx, c.Req)
		})
	}, nil
}

// ChainStream composes stack into a single stream interceptor. The handler
// receives a stream whose Context() is the call's current context.
func ChainStream(stack []StreamMiddleware) (grpc.StreamServerInterceptor, error) {
	if len(stack) == 0 {
		return nil, nil
	}
	run, err := onion.Compose(stack)
	if err != nil {
		return nil, err
	}

	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		_, err := run(NewStreamCall(srv, ss, info), func(c *StreamCall, _ onion.Next[struct{}]) (struct{}, error) {
			return struct{}{}, handler(c.Srv, c.ServerStream())
		})
		return err
	}, nil
}

// FromUnary adapts an existing unary interceptor into a stack. What it
// passes to its handler becomes the call's context and request for the rest
// of the stack. Invoking the handler twice yields onion.ErrMultipleNext.
func FromUnary(ic grpc.UnaryServerInterceptor) UnaryMiddleware {
	return func(c *UnaryCall, next onion.Next[any]) (any, error) {
		return ic(c.ctx, c.Req, c.Info, func(ctx context.Context, req any) (any, error) {
			c.ctx, c.Req = ctx, req
			return next()
		})
	}
}

// FromStream adapts an existing stream interceptor into a stack.
func FromStream(ic grpc.StreamServerInterceptor) StreamMiddleware {
	return func(c *StreamCall, next onion.Next[struct{}]) (struct{}, error) {
		err := ic(c.Srv, c.ServerStream(), c.Info, func(srv any, ss grpc.ServerStream) error {
			c.Srv, c.Stream = srv, ss
			if ss != nil {
				c.ctx = ss.Context()
			}
			_, err := next()
			return err
		})
		return struct{}{}, err
	}
}
