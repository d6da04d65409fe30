// Package contextx stores request-scoped values that the gRPC middleware of
// this module hands to each other through the call context.
package contextx

import (
	"context"
	"net/netip"
)

// key is a typed context key; the pointer identity of each key value keeps
// it distinct from keys defined in other packages.
type key[V any] struct{ name string }

func (k *key[V]) with(ctx context.Context, v V) context.Context {
	return context.WithValue(ctx, k, v)
}

func (k *key[V]) from(ctx context.Context) (V, bool) {
	v, ok := ctx.Value(k).(V)
	return v, ok
}

var (
	requestIDKey = &key[string]{"request-id"}
	actorKey     = &key[Actor]{"actor"}
	groupKey     = &key[string]{"group"}
)

// Actor is the authenticated identity behind a call, set by the Auth
// middleware and read by handlers with [ActorFromContext].
type Actor struct {
	Subject  string
	Tenant   string
	ClientID string
	Scopes   []string
}

// WithActor returns a derived context that carries a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return actorKey.with(ctx, a)
}

// ActorFromContext returns the Actor stored in ctx, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	return actorKey.from(ctx)
}

// WithRequestID returns a derived context that carries id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return requestIDKey.with(ctx, id)
}

// RequestIDFromContext returns the request ID in ctx or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := requestIDKey.from(ctx)
	return id
}

// WithGroup records the method group whose nested stack handles the call.
func WithGroup(ctx context.Context, group string) context.Context {
	return groupKey.with(ctx, group)
}

// GroupFromContext returns the method group in ctx or "".
func GroupFromContext(ctx context.Context) string {
	g, _ := groupKey.from(ctx)
	return g
}

var clientAddrKey = &key[netip.Addr]{"client-addr"}

// WithClientAddr records the resolved client address of a call.
func WithClientAddr(ctx context.Context, addr netip.Addr) context.Context {
	return clientAddrKey.with(ctx, addr)
}

// ClientAddrFromContext returns the client address resolved by the IP
// filter, if it ran.
func ClientAddrFromContext(ctx context.Context) (netip.Addr, bool) {
	return clientAddrKey.from(ctx)
}
