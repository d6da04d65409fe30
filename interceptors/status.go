package interceptors

import (
	"context"
	"errors"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/breaker"
	"github.com/Keksclan/onion/ratelimit"
	"github.com/Keksclan/onion/security"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status errors are allocated once to avoid per-request allocations on the
// hot path.
var (
	errInternal        = status.Error(codes.Internal, "internal server error")
	errRateLimited     = status.Error(codes.ResourceExhausted, "rate limit exceeded")
	errUnavailable     = status.Error(codes.Unavailable, "service unavailable")
	errBlocked         = status.Error(codes.PermissionDenied, "blocked")
	errUnauthenticated = status.Error(codes.Unauthenticated, "unauthenticated")
	errDeadline        = status.Error(codes.DeadlineExceeded, "deadline exceeded")
	errCanceled        = status.Error(codes.Canceled, "canceled")
)

// ToStatus converts the errors produced by this module's middleware into
// gRPC status errors. Status errors and unknown errors are returned as is.
// Recovered panics and protocol violations become codes.Internal without
// exposing their details.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case onion.IsPanic(err),
		errors.Is(err, onion.ErrMultipleNext),
		errors.Is(err, onion.ErrTypeMismatch):
		return errInternal
	case errors.Is(err, ErrUnauthenticated):
		return errUnauthenticated
	case errors.Is(err, ratelimit.ErrLimited):
		return errRateLimited
	case errors.Is(err, breaker.ErrOpen):
		return errUnavailable
	case errors.Is(err, security.ErrBlocked):
		return errBlocked
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errDeadline
	case errors.Is(err, context.Canceled):
		return errCanceled
	}
	return err
}

// Code returns the gRPC code err maps to.
func Code(err error) codes.Code {
	return status.Code(ToStatus(err))
}

// Status returns a middleware that converts errors from the rest of the
// stack with ToStatus. Place it first so every error leaves the stack as a
// status error.
func Status[T Call, R any]() onion.Middleware[T, R] {
	return func(_ T, next onion.Next[R]) (R, error) {
		out, err := next()
		return out, ToStatus(err)
	}
}
