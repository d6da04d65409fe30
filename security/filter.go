// Package security filters calls by client IP address. The client address is
// the gRPC peer, or, when the peer is a trusted proxy, the first valid
// address found in the forwarding headers.
package security

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/Keksclan/onion"
	"github.com/Keksclan/onion/contextx"
	"google.golang.org/grpc/metadata"
)

// ErrBlocked is returned by Middleware when a call is filtered out.
var ErrBlocked = errors.New("security: client address blocked")

// Mode controls how the CIDR list is interpreted.
type Mode int

const (
	// AllowList only permits addresses inside at least one CIDR.
	AllowList Mode = iota
	// DenyList blocks addresses inside any CIDR and allows all others.
	DenyList
)

// Config holds the configuration of a Filter. Entries of CIDRs and
// TrustedProxies may be bare addresses.
type Config struct {
	Mode           Mode
	CIDRs          []string
	TrustedProxies []string
	// HeaderPriority lists the metadata keys consulted for calls arriving
	// through a trusted proxy. Defaults to x-real-ip, x-forwarded-for.
	HeaderPriority []string
}

// Filter decides whether a client address may call. It is immutable and safe
// for concurrent use.
type Filter struct {
	mode    Mode
	cidrs   []netip.Prefix
	proxies []netip.Prefix
	headers []string
}

// NewFilter parses cfg.
func NewFilter(cfg Config) (*Filter, error) {
	cidrs, err := parsePrefixes(cfg.CIDRs)
	if err != nil {
		return nil, fmt.Errorf("security: invalid CIDR: %w", err)
	}
	proxies, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("security: invalid trusted proxy: %w", err)
	}
	headers := cfg.HeaderPriority
	if len(headers) == 0 {
		headers = defaultHeaderPriority
	}
	return &Filter{mode: cfg.Mode, cidrs: cidrs, proxies: proxies, headers: headers}, nil
}

// Allow reports whether addr passes the filter.
func (f *Filter) Allow(addr netip.Addr) bool {
	matched := containsAddr(f.cidrs, addr)
	switch f.mode {
	case AllowList:
		return matched
	case DenyList:
		return !matched
	default:
		return false
	}
}

// Evaluate resolves the client address of the call in ctx and checks it.
// Calls whose client address cannot be determined are denied.
func (f *Filter) Evaluate(ctx context.Context) (netip.Addr, bool) {
	md, _ := metadata.FromIncomingContext(ctx)
	addr, ok := f.clientAddr(ctx, md)
	if !ok {
		return netip.Addr{}, false
	}
	return addr, f.Allow(addr)
}

// Middleware returns a middleware that rejects calls from filtered addresses
// with ErrBlocked. Admitted calls carry their client address in the context,
// see contextx.ClientAddrFromContext.
func Middleware[T onion.Carrier, R any](f *Filter) onion.Middleware[T, R] {
	return func(args T, next onion.Next[R]) (R, error) {
		ctx := args.Context()
		addr, ok := f.Evaluate(ctx)
		if !ok {
			var zero R
			return zero, ErrBlocked
		}
		args.SetContext(contextx.WithClientAddr(ctx, addr))
		return next()
	}
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parsePrefixes parses CIDR strings. A bare address becomes a single-host
// prefix.
func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			addr, addrErr := netip.ParseAddr(s)
			if addrErr != nil {
				return nil, fmt.Errorf("%q: %w", s, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
