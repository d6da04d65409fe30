package interceptors

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Keksclan/onion"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type ctxKey string

// okHandler is a trivial handler that always succeeds.
func okHandler(_ context.Context, _ any) (any, error) { return "ok", nil }

func codeOf(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	st, _ := status.FromError(err)
	return st.Code()
}

// callUnary chains stack and runs it for one call of method.
func callUnary(t *testing.T, ctx context.Context, method string, req any, handler grpc.UnaryHandler, stack ...UnaryMiddleware) (any, error) {
	t.Helper()
	ic, err := ChainUnary(stack)
	if err != nil {
		t.Fatalf("ChainUnary: %v", err)
	}
	return ic(ctx, req, &grpc.UnaryServerInfo{FullMethod: method}, handler)
}

func makeUnaryTag(tag string, log *[]string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		*log = append(*log, tag+":before")
		resp, err := handler(ctx, req)
		*log = append(*log, tag+":after")
		return resp, err
	}
}

func makeTag[T Call, R any](tag string, log *[]string) onion.Middleware[T, R] {
	return func(_ T, next onion.Next[R]) (R, error) {
		*log = append(*log, tag+":before")
		out, err := next()
		*log = append(*log, tag+":after")
		return out, err
	}
}

func TestChainUnary_Order(t *testing.T) {
	var log []string
	handler := func(_ context.Context, _ any) (any, error) {
		log = append(log, "handler")
		return "ok", nil
	}

	resp, err := callUnary(t, t.Context(), "/svc/Method", "req", handler,
		FromUnary(makeUnaryTag("A", &log)),
		makeTag[*UnaryCall, any]("B", &log),
		FromUnary(makeUnaryTag("C", &log)),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("unexpected response: %v", resp)
	}

	expected := []string{"A:before", "B:before", "C:before", "handler", "C:after", "B:after", "A:after"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestChainUnary_Empty(t *testing.T) {
	ic, err := ChainUnary(nil)
	if err != nil || ic != nil {
		t.Fatalf("ChainUnary(nil) = (%v, %v), want (nil, nil)", ic != nil, err)
	}
}

func TestChainUnary_InvalidStack(t *testing.T) {
	_, err := ChainUnary([]UnaryMiddleware{nil})
	if !errors.Is(err, onion.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestChainUnary_HandlerSeesCallState(t *testing.T) {
	replace := func(c *UnaryCall, next onion.Next[any]) (any, error) {
		c.SetContext(context.WithValue(c.Context(), ctxKey("k"), "v"))
		c.Req = "rewritten"
		return next()
	}
	handler := func(ctx context.Context, req any) (any, error) {
		if ctx.Value(ctxKey("k")) != "v" {
			t.Error("handler did not receive the replaced context")
		}
		return req, nil
	}

	resp, err := callUnary(t, t.Context(), "/svc/Method", "req", handler, replace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != "rewritten" {
		t.Fatalf("expected rewritten request, got %v", resp)
	}
}

func TestChainUnary_ShortCircuit(t *testing.T) {
	deny := func(*UnaryCall, onion.Next[any]) (any, error) {
		return nil, status.Error(codes.PermissionDenied, "no")
	}
	handler := func(context.Context, any) (any, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	}

	_, err := callUnary(t, t.Context(), "/svc/Method", nil, handler, deny)
	if codeOf(err) != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestFromUnary_HandlerTwice(t *testing.T) {
	twice := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		_, _ = handler(ctx, req)
		return handler(ctx, req)
	}
	calls := 0
	handler := func(context.Context, any) (any, error) {
		calls++
		return "ok", nil
	}

	_, err := callUnary(t, t.Context(), "/svc/Method", nil, handler, FromUnary(twice))
	if !errors.Is(err, onion.ErrMultipleNext) {
		t.Fatalf("expected ErrMultipleNext, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
}

func TestChainUnary_Reentrant(t *testing.T) {
	ic, err := ChainUnary([]UnaryMiddleware{
		func(c *UnaryCall, next onion.Next[any]) (any, error) { return next() },
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		resp, err := ic(t.Context(), i, &grpc.UnaryServerInfo{}, func(_ context.Context, req any) (any, error) { return req, nil })
		if err != nil || resp != i {
			t.Fatalf("call %d: got (%v, %v)", i, resp, err)
		}
	}
}

// ---------- Stream ----------------------------------------------------------

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func makeStreamTag(tag string, log *[]string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		*log = append(*log, tag+":before")
		err := handler(srv, ss)
		*log = append(*log, tag+":after")
		return err
	}
}

func callStream(t *testing.T, ctx context.Context, method string, handler grpc.StreamHandler, stack ...StreamMiddleware) error {
	t.Helper()
	ic, err := ChainStream(stack)
	if err != nil {
		t.Fatalf("ChainStream: %v", err)
	}
	return ic(nil, &fakeServerStream{ctx: ctx}, &grpc.StreamServerInfo{FullMethod: method}, handler)
}

func TestChainStream_Order(t *testing.T) {
	var log []string
	handler := func(_ any, _ grpc.ServerStream) error {
		log = append(log, "handler")
		return nil
	}

	err := callStream(t, t.Context(), "/svc/Watch", handler,
		FromStream(makeStreamTag("A", &log)),
		makeTag[*StreamCall, struct{}]("B", &log),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"A:before", "B:before", "handler", "B:after", "A:after"}
	if !slices.Equal(log, expected) {
		t.Fatalf("log mismatch: got %v, want %v", log, expected)
	}
}

func TestChainStream_Empty(t *testing.T) {
	ic, err := ChainStream(nil)
	if err != nil || ic != nil {
		t.Fatal("ChainStream(nil) should return a nil interceptor")
	}
}

func TestChainStream_ContextReachesHandler(t *testing.T) {
	enrich := func(c *StreamCall, next onion.Next[struct{}]) (struct{}, error) {
		c.SetContext(context.WithValue(c.Context(), ctxKey("k"), "v"))
		return next()
	}
	handler := func(_ any, ss grpc.ServerStream) error {
		if ss.Context().Value(ctxKey("k")) != "v" {
			return errors.New("stream context was not replaced")
		}
		return nil
	}

	if err := callStream(t, t.Context(), "/svc/Watch", handler, enrich); err != nil {
		t.Fatal(err)
	}
}

func TestChainStream_UnchangedContextKeepsStream(t *testing.T) {
	ss := &fakeServerStream{ctx: t.Context()}
	ic, err := ChainStream([]StreamMiddleware{
		func(_ *StreamCall, next onion.Next[struct{}]) (struct{}, error) { return next() },
	})
	if err != nil {
		t.Fatal(err)
	}
	err = ic(nil, ss, &grpc.StreamServerInfo{}, func(_ any, got grpc.ServerStream) error {
		if got != ss {
			return errors.New("stream was wrapped without a context change")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFromStream_ContextFromInterceptor(t *testing.T) {
	wrapper := func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := context.WithValue(ss.Context(), ctxKey("from"), "interceptor")
		return handler(srv, &fakeServerStream{ServerStream: ss, ctx: ctx})
	}
	var seen any
	read := func(c *StreamCall, next onion.Next[struct{}]) (struct{}, error) {
		seen = c.Context().Value(ctxKey("from"))
		return next()
	}

	err := callStream(t, t.Context(), "/svc/Watch", func(any, grpc.ServerStream) error { return nil },
		FromStream(wrapper), read)
	if err != nil {
		t.Fatal(err)
	}
	if seen != "interceptor" {
		t.Fatalf("context from the interceptor did not reach the stack: %v", seen)
	}
}
