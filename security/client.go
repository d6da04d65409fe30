package security

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

var defaultHeaderPriority = []string{"x-real-ip", "x-forwarded-for"}

// clientAddr returns the peer address, or the forwarded address when the
// peer is a trusted proxy and one of the headers carries a valid address.
func (f *Filter) clientAddr(ctx context.Context, md metadata.MD) (netip.Addr, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return netip.Addr{}, false
	}
	addr, ok := parseNetAddr(p.Addr)
	if !ok {
		return netip.Addr{}, false
	}
	if containsAddr(f.proxies, addr) {
		if fwd, ok := forwardedAddr(md, f.headers); ok {
			return fwd, true
		}
	}
	return addr, true
}

func parseNetAddr(addr net.Addr) (netip.Addr, bool) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		ip, ok := netip.AddrFromSlice(tcp.IP)
		return ip.Unmap(), ok
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

// forwardedAddr walks the header keys in priority order. For list headers
// such as x-forwarded-for the left-most valid entry is the client.
func forwardedAddr(md metadata.MD, keys []string) (netip.Addr, bool) {
	for _, key := range keys {
		for _, v := range md.Get(key) {
			for part := range strings.SplitSeq(v, ",") {
				if ip, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
					return ip.Unmap(), true
				}
			}
		}
	}
	return netip.Addr{}, false
}
