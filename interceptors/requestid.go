package interceptors

import (
	"context"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/contextx"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDHeader is the metadata key carrying the request ID in both
// directions.
const RequestIDHeader = "x-request-id"

// maxRequestIDLen bounds client-supplied IDs.
const maxRequestIDLen = 128

// RequestID returns a middleware that makes sure the call context carries a
// request ID. A client-supplied x-request-id is kept, otherwise a random
// UUID is generated. The ID is echoed in the response header.
func RequestID[T Call, R any]() onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		ctx := args.Context()
		if contextx.RequestIDFromContext(ctx) == "" {
			id := incomingRequestID(ctx)
			if id == "" {
				id = uuid.NewString()
			}
			ctx = contextx.WithRequestID(ctx, id)
			// Fails outside a real transport stream, e.g. in tests.
			_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))
			args.SetContext(ctx)
		}
		return next()
	}
}

func incomingRequestID(ctx context.Context) string {
	vals := metadata.ValueFromIncomingContext(ctx, RequestIDHeader)
	if len(vals) == 0 || len(vals[0]) > maxRequestIDLen {
		return ""
	}
	return vals[0]
}
