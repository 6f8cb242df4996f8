package policy

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Pattern is one "host:port" entry from an allow list. The host part is
// "*", a literal IP (IPv6 in bracket form), or a DNS name; the port part is
// "*" or a decimal 0-65535. A DNS-name pattern never matches an address
// directly; it only matches through the IP patterns derived for it at
// resolve time.
type Pattern struct {
	raw string

	host    string
	anyHost bool
	ip      netip.Addr
	isIP    bool

	port    uint16
	anyPort bool
}

// ParsePattern splits on the last colon so bracketed IPv6 hosts parse
// correctly ("[::1]:8080").
func ParsePattern(s string) (Pattern, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Pattern{}, fmt.Errorf("%w: %q has no port part", ErrInvalidPattern, s)
	}
	host, portPart := s[:idx], s[idx+1:]
	if host == "" {
		return Pattern{}, fmt.Errorf("%w: %q has no host part", ErrInvalidPattern, s)
	}

	p := Pattern{raw: s, host: host}

	switch portPart {
	case "*":
		p.anyPort = true
	default:
		n, err := strconv.ParseUint(portPart, 10, 16)
		if err != nil {
			return Pattern{}, fmt.Errorf("%w: %q has invalid port %q", ErrInvalidPattern, s, portPart)
		}
		p.port = uint16(n)
	}

	switch {
	case host == "*":
		p.anyHost = true
	case strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]"):
		addr, err := netip.ParseAddr(host[1 : len(host)-1])
		if err != nil {
			return Pattern{}, fmt.Errorf("%w: %q has invalid IPv6 host", ErrInvalidPattern, s)
		}
		p.ip = addr.Unmap()
		p.isIP = true
	case strings.HasPrefix(host, "[") || strings.HasSuffix(host, "]"):
		return Pattern{}, fmt.Errorf("%w: %q has unbalanced IPv6 brackets", ErrInvalidPattern, s)
	default:
		if addr, err := netip.ParseAddr(host); err == nil {
			p.ip = addr.Unmap()
			p.isIP = true
		}
		// Otherwise a DNS name; matchable only via resolved derivatives.
	}

	return p, nil
}

// String returns the original pattern text.
func (p Pattern) String() string {
	return p.raw
}

// IsName reports whether the host part is a DNS name needing resolution.
func (p Pattern) IsName() bool {
	return !p.anyHost && !p.isIP
}

// Matches reports whether the pattern allows the given socket address.
// DNS-name patterns never match here.
func (p Pattern) Matches(addr netip.AddrPort) bool {
	if !p.anyPort && addr.Port() != p.port {
		return false
	}
	if p.anyHost {
		return true
	}
	if !p.isIP {
		return false
	}
	return p.ip == addr.Addr().Unmap()
}

// WithIP derives the IP-form pattern for a resolved address, keeping the
// original port part. IPv6 addresses are re-bracketed.
func (p Pattern) WithIP(addr netip.Addr) Pattern {
	host := addr.String()
	if addr.Is6() {
		host = "[" + host + "]"
	}
	portPart := "*"
	if !p.anyPort {
		portPart = strconv.Itoa(int(p.port))
	}
	return Pattern{
		raw:     host + ":" + portPart,
		host:    host,
		ip:      addr.Unmap(),
		isIP:    true,
		port:    p.port,
		anyPort: p.anyPort,
	}
}
