package policy

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/samber/lo"

	"github.com/jingkaihe/wasmlet/pkg/api"
)

// SocketUse identifies which allow list governs a socket operation.
type SocketUse int

const (
	TCPBind SocketUse = iota
	TCPConnect
	UDPBind
	UDPConnect
	UDPOutgoingDatagram
)

func (u SocketUse) String() string {
	switch u {
	case TCPBind:
		return "tcp-bind"
	case TCPConnect:
		return "tcp-connect"
	case UDPBind:
		return "udp-bind"
	case UDPConnect:
		return "udp-connect"
	case UDPOutgoingDatagram:
		return "udp-outgoing-datagram"
	default:
		return "unknown"
	}
}

// LookupFunc resolves a hostname to IP addresses. Injectable for tests;
// the default uses net.DefaultResolver.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Policy answers "is this socket address allowed for this use?". It is
// built once at startup and read-only afterwards: hostnames in the declared
// pattern lists are resolved at construction, and Check never touches DNS,
// so the decision at the socket boundary is a pure, cheap function.
type Policy struct {
	spec     *api.NetworkSpec
	lists    map[SocketUse][]Pattern
	resolved map[string][]Pattern
}

// Resolve compiles a NetworkSpec into a Policy. It walks the union of the
// five pattern lists and synchronously resolves every DNS-name host it
// finds; each resolved IP yields a derived IP-form pattern recorded against
// the original. Resolution failures are logged and the pattern retained,
// unmatchable. A nil spec compiles to a deny-everything policy.
func Resolve(ctx context.Context, spec *api.NetworkSpec, lookup LookupFunc, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	if lookup == nil {
		lookup = defaultLookup
	}

	p := &Policy{
		spec:     spec,
		lists:    make(map[SocketUse][]Pattern),
		resolved: make(map[string][]Pattern),
	}
	if spec == nil {
		return p
	}

	declared := map[SocketUse][]string{
		TCPBind:             spec.TCPBind,
		TCPConnect:          spec.TCPConnect,
		UDPBind:             spec.UDPBind,
		UDPConnect:          spec.UDPConnect,
		UDPOutgoingDatagram: spec.UDPOutgoing,
	}

	for use, raws := range declared {
		patterns := make([]Pattern, 0, len(raws))
		for _, raw := range raws {
			pat, err := ParsePattern(raw)
			if err != nil {
				logger.Warn("skipping unparseable address pattern",
					"pattern", raw, "use", use.String(), "error", err)
				continue
			}
			patterns = append(patterns, pat)
		}
		p.lists[use] = patterns
	}

	// Resolve each distinct DNS-name pattern exactly once, regardless of
	// how many lists it appears in.
	names := lo.Uniq(lo.FilterMap(lo.Flatten(lo.Values(p.lists)), func(pat Pattern, _ int) (string, bool) {
		return pat.raw, pat.IsName()
	}))
	for _, raw := range names {
		pat, err := ParsePattern(raw)
		if err != nil {
			continue
		}
		addrs, err := lookup(ctx, pat.host)
		if err != nil {
			logger.Warn("failed to resolve pattern host; pattern will never match",
				"pattern", raw, "host", pat.host, "error", err)
			p.resolved[raw] = nil
			continue
		}
		derived := make([]Pattern, 0, len(addrs))
		for _, addr := range addrs {
			derived = append(derived, pat.WithIP(addr))
		}
		p.resolved[raw] = derived
		logger.Debug("resolved pattern host",
			"pattern", raw, "addresses", len(derived))
	}

	return p
}

// Check reports whether addr is allowed for the given use. Patterns are
// scanned in declared order; a DNS-name entry contributes the IP patterns
// it resolved to. First match wins; no match is a deny.
func (p *Policy) Check(addr netip.AddrPort, use SocketUse) bool {
	for _, pat := range p.lists[use] {
		if pat.Matches(addr) {
			return true
		}
		if pat.IsName() {
			for _, derived := range p.resolved[pat.raw] {
				if derived.Matches(addr) {
					return true
				}
			}
		}
	}
	return false
}

// Resolutions returns the derived IP-form pattern strings for an original
// DNS-form pattern.
func (p *Policy) Resolutions(pattern string) []string {
	return lo.Map(p.resolved[pattern], func(pat Pattern, _ int) string {
		return pat.raw
	})
}
