package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/breaker"
	"github.com/Keksclan/onion/ratelimit"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestServerFault(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("db down"), true},
		{&onion.PanicError{Value: "x"}, true},
		{status.Error(codes.Unavailable, "x"), true},
		{status.Error(codes.Internal, "x"), true},
		{status.Error(codes.DeadlineExceeded, "x"), true},
		{status.Error(codes.InvalidArgument, "x"), false},
		{status.Error(codes.NotFound, "x"), false},
		{ratelimit.ErrLimited, false},
		{ErrUnauthenticated, false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := ServerFault(tt.err); got != tt.want {
			t.Errorf("ServerFault(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBreaker_TripsOnServerFaults(t *testing.T) {
	b := breaker.New(breaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour, HalfOpenMaxSuccess: 1})
	mw := Breaker[*UnaryCall, any](b)

	calls := 0
	failing := func(context.Context, any) (any, error) {
		calls++
		return nil, status.Error(codes.Unavailable, "down")
	}

	for range 2 {
		_, _ = callUnary(t, t.Context(), "/svc/Method", nil, failing, mw)
	}
	if b.State() != breaker.Open {
		t.Fatalf("expected open breaker, got %v", b.State())
	}

	_, err := callUnary(t, t.Context(), "/svc/Method", nil, failing, mw)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if Code(err) != codes.Unavailable {
		t.Fatalf("expected Unavailable, got %v", Code(err))
	}
	if calls != 2 {
		t.Fatalf("handler ran %d times, want 2", calls)
	}
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	b := breaker.New(breaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour, HalfOpenMaxSuccess: 1})
	mw := Breaker[*UnaryCall, any](b)

	notFound := func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	}
	for range 5 {
		_, _ = callUnary(t, t.Context(), "/svc/Method", nil, notFound, mw)
	}
	if b.State() != breaker.Closed {
		t.Fatalf("client errors must not trip the breaker, state %v", b.State())
	}
}
