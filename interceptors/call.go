// Package interceptors turns onion stacks into gRPC server interceptors and
// provides the gRPC-facing middleware the server assembles.
//
// Every gRPC call becomes a *UnaryCall or *StreamCall that flows through a
// composed stack. The terminal continuation invokes the gRPC handler with
// the call's current context, so middleware that replaces the context with
// SetContext changes what the handler sees. This works for streams too.
//
// Most middleware here is generic over [Call] and can be used in unary and
// stream stacks alike.
package interceptors

import (
	"context"

	"github.com/Keksclan/onion"
	"google.golang.org/grpc"
)

// Call is implemented by *UnaryCall and *StreamCall.
type Call interface {
	onion.Carrier
	FullMethod() string
}

// UnaryCall carries a unary RPC through a stack.
type UnaryCall struct {
	ctx  context.Context
	Req  any
	Info *grpc.UnaryServerInfo
}

// NewUnaryCall returns the call for one unary RPC.
func NewUnaryCall(ctx context.Context, req any, info *grpc.UnaryServerInfo) *UnaryCall {
	return &UnaryCall{ctx: ctx, Req: req, Info: info}
}

func (c *UnaryCall) Context() context.Context       { return c.ctx }
func (c *UnaryCall) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *UnaryCall) FullMethod() string {
	if c.Info == nil {
		return ""
	}
	return c.Info.FullMethod
}

// StreamCall carries a streaming RPC through a stack. Its context starts as
// the stream's context.
type StreamCall struct {
	ctx    context.Context
	Srv    any
	Stream grpc.ServerStream
	Info   *grpc.StreamServerInfo
}

// NewStreamCall returns the call for one streaming RPC.
func NewStreamCall(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo) *StreamCall {
	ctx := context.Background()
	if ss != nil {
		ctx = ss.Context()
	}
	return &StreamCall{ctx: ctx, Srv: srv, Stream: ss, Info: info}
}

func (c *StreamCall) Context() context.Context       { return c.ctx }
func (c *StreamCall) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *StreamCall) FullMethod() string {
	if c.Info == nil {
		return ""
	}
	return c.Info.FullMethod
}

// ServerStream returns the stream the handler receives: Stream itself, or a
// wrapper reporting the call's context when middleware replaced it.
func (c *StreamCall) ServerStream() grpc.ServerStream {
	if c.Stream == nil || c.Stream.Context() == c.ctx {
		return c.Stream
	}
	return &contextStream{ServerStream: c.Stream, ctx: c.ctx}
}

// contextStream overrides Context() of a server stream.
type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }

// UnaryMiddleware is a middleware of a unary stack; the result is the
// handler's response.
type UnaryMiddleware = onion.Middleware[*UnaryCall, any]

// StreamMiddleware is a middleware of a stream stack. Streams have no
// result besides the error.
type StreamMiddleware = onion.Middleware[*StreamCall, struct{}]
