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

// Breaker returns a middleware that guards the rest of the stack with b.
// Only server faults, see ServerFault, count as failures.
func Breaker[T Call, R any](b *breaker.Breaker) onion.Middleware[T, R] {
	return breaker.Middleware[T, R](b, ServerFault)
}

// ServerFault reports whether err indicates that the server, not the
// caller, failed. Rejections by other middleware and client-side status
// codes are not faults.
func ServerFault(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ratelimit.ErrLimited) ||
		errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, security.ErrBlocked) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	if onion.IsPanic(err) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Internal, codes.Unknown, codes.Unavailable, codes.DeadlineExceeded, codes.DataLoss:
		return true
	default:
		return false
	}
}
