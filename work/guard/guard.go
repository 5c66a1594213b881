package guard

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// Rejection reasons. They are distinct so the relay endpoint can map each to
// its own response text and so tests can assert on them individually.
var (
	// ErrBadScheme covers malformed URLs and any scheme other than http/https.
	ErrBadScheme = errors.New("invalid url or scheme")

	// ErrNoPublicAddr means DNS resolution yielded no address, or every
	// candidate address is private/loopback/reserved.
	ErrNoPublicAddr = errors.New("no public address for host")

	// ErrPrivatePeer means the connection's actual peer address is
	// private/reserved. This is the post-resolution check that defeats DNS
	// rebinding and redirect-to-internal targets.
	ErrPrivatePeer = errors.New("refusing private peer address")
)

// reserved lists address blocks that are never valid relay targets beyond
// what the netip predicates already classify (documentation ranges, CGNAT,
// benchmarking, class E, the v4 zero network).
var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// Guard validates relay target URLs against server-side request forgery.
// The pre-check (Validate) runs before any fetch; the peer check
// (DialControl) runs on every outbound connection, including each redirect
// hop, so a host whose DNS answer changes between check and connect still
// cannot reach an internal address.
type Guard struct {
	resolver *net.Resolver
}

// New creates a Guard using the default system resolver.
func New() *Guard {
	return &Guard{resolver: net.DefaultResolver}
}

// Validate checks that raw parses as an absolute http/https URL whose host
// resolves to at least one public address. It returns the parsed URL on
// success. This is a pre-check, not a guarantee: DNS can change between
// check and connect, which is why DialControl re-checks the peer.
func (g *Guard) Validate(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrBadScheme
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrBadScheme
	}

	host := u.Hostname()
	if host == "" {
		return nil, ErrBadScheme
	}

	// Literal addresses skip resolution.
	if ip, err := netip.ParseAddr(host); err == nil {
		if !IsPublicAddr(ip) {
			return nil, ErrNoPublicAddr
		}
		return u, nil
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return nil, ErrNoPublicAddr
	}

	// At least one resolved address must be public.
	for _, ip := range addrs {
		if IsPublicAddr(ip) {
			return u, nil
		}
	}

	return nil, ErrNoPublicAddr
}

// DialControl is installed as the Control hook of the outbound net.Dialer.
// It sees the exact peer address each connection is about to use and rejects
// private/reserved peers with ErrPrivatePeer before any bytes flow.
func (g *Guard) DialControl(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return ErrPrivatePeer
	}
	if !IsPublicAddr(ap.Addr()) {
		return ErrPrivatePeer
	}
	return nil
}

// IsPublicAddr reports whether ip is a publicly routable unicast address.
// Loopback, private, link-local, multicast, unspecified and the reserved
// blocks above all fail.
func IsPublicAddr(ip netip.Addr) bool {
	ip = ip.Unmap()

	if !ip.IsValid() || !ip.IsGlobalUnicast() {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	for _, p := range reserved {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}
