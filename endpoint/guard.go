package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// IsPublicAddr reports whether addr is a globally routable unicast address.
func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() {
		return false
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// Guard rejects webhook URLs that point into private address space.
type Guard struct {
	resolver     Resolver
	allowPrivate bool
}

// NewGuard returns a Guard. A nil resolver uses net.DefaultResolver.
// allowPrivate disables the address checks but keeps URL validation; it
// exists for local development and tests.
func NewGuard(allowPrivate bool, resolver Resolver) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{resolver: resolver, allowPrivate: allowPrivate}
}

// ParseURL validates the shape of a webhook URL.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return nil, &ValidationError{Field: "url", Message: "missing host"}
	}
	if u.User != nil {
		return nil, &ValidationError{Field: "url", Message: "credentials in URL are not allowed"}
	}
	return u, nil
}

// Check validates raw and verifies every address its host resolves to. An
// unsafe URL yields a *ValidationError; a lookup failure is returned wrapped
// so callers can treat it as transient.
func (g *Guard) Check(ctx context.Context, raw string) error {
	u, err := ParseURL(raw)
	if err != nil {
		return err
	}
	if g.allowPrivate {
		return nil
	}

	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return &ValidationError{Field: "url", Message: "host resolves to a non-public address"}
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("courier/endpoint: resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("courier/endpoint: resolve %s: no addresses", host)
	}
	for _, addr := range addrs {
		if err := checkAddr(addr); err != nil {
			return err
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	if !IsPublicAddr(addr) {
		return &ValidationError{Field: "url", Message: "host resolves to a non-public address"}
	}
	return nil
}

// Control is a net.Dialer Control hook that refuses connections to
// non-public addresses, closing the window between Check and the dial.
func (g *Guard) Control(_, address string, _ syscall.RawConn) error {
	if g.allowPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("courier/endpoint: dial %s: %w", address, err)
	}
	return checkAddr(ap.Addr())
}
