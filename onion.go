// Package onion composes middleware into "onion" chains: every middleware
// receives the shared call arguments plus a next continuation, runs code
// before and after calling it, and sees the result of everything downstream.
//
//	run, err := onion.Compose([]onion.Middleware[*Req, string]{
//		func(r *Req, next onion.Next[string]) (string, error) {
//			log.Println("before")
//			out, err := next()
//			log.Println("after")
//			return out, err
//		},
//		handler,
//	})
//	out, err := run.Run(req)
//
// A composed Runner can itself be used as one step of another stack via
// [Nest], so stacks can be assembled from independently composed parts.
package onion

import "context"

// Next runs the remainder of the chain and returns its result. Each Next
// may be called at most once; a second call returns [ErrMultipleNext].
type Next[R any] func() (R, error)

// Middleware is one step of a chain. It receives the arguments shared by the
// whole invocation and the continuation that runs the rest of the chain. It
// may skip next entirely to short-circuit, or replace the downstream result.
type Middleware[T, R any] func(args T, next Next[R]) (R, error)

// Carrier is implemented by argument types that carry a request context.
// Middleware that needs to derive a new context for downstream steps (spans,
// deadlines, request IDs) replaces it through SetContext.
type Carrier interface {
	Context() context.Context
	SetContext(ctx context.Context)
}
