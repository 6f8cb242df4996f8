package policy

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/wasmlet/pkg/api"
)

func staticLookup(hosts map[string][]string) LookupFunc {
	return func(_ context.Context, host string) ([]netip.Addr, error) {
		ips, ok := hosts[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		addrs := make([]netip.Addr, 0, len(ips))
		for _, ip := range ips {
			addrs = append(addrs, netip.MustParseAddr(ip))
		}
		return addrs, nil
	}
}

func TestPolicy_NilSpecDeniesEverything(t *testing.T) {
	p := Resolve(context.Background(), nil, nil, nil)

	assert.False(t, p.Check(addr(t, "127.0.0.1:80"), TCPConnect))
	assert.False(t, p.Check(addr(t, "8.8.8.8:53"), UDPOutgoingDatagram))
}

func TestPolicy_PreResolvedHostname(t *testing.T) {
	spec := &api.NetworkSpec{TCPConnect: []string{"localhost:8080"}}
	lookup := staticLookup(map[string][]string{"localhost": {"127.0.0.1"}})
	p := Resolve(context.Background(), spec, lookup, nil)

	assert.True(t, p.Check(addr(t, "127.0.0.1:8080"), TCPConnect))
	assert.False(t, p.Check(addr(t, "127.0.0.1:9090"), TCPConnect), "port must match the declared pattern")
	assert.False(t, p.Check(addr(t, "127.0.0.2:8080"), TCPConnect))
	assert.Equal(t, []string{"127.0.0.1:8080"}, p.Resolutions("localhost:8080"))
}

func TestPolicy_FailedResolutionRetainedButUnmatchable(t *testing.T) {
	spec := &api.NetworkSpec{TCPConnect: []string{"nxdomain.invalid:80", "*:443"}}
	p := Resolve(context.Background(), spec, staticLookup(nil), nil)

	assert.False(t, p.Check(addr(t, "1.2.3.4:80"), TCPConnect))
	assert.True(t, p.Check(addr(t, "1.2.3.4:443"), TCPConnect), "later patterns still apply")
	assert.Empty(t, p.Resolutions("nxdomain.invalid:80"))
}

func TestPolicy_UseIsolation(t *testing.T) {
	spec := &api.NetworkSpec{
		TCPConnect:  []string{"10.0.0.1:80"},
		UDPBind:     []string{"0.0.0.0:5353"},
		UDPOutgoing: []string{"8.8.8.8:53"},
	}
	p := Resolve(context.Background(), spec, staticLookup(nil), nil)

	allowed := addr(t, "10.0.0.1:80")
	assert.True(t, p.Check(allowed, TCPConnect))
	for _, use := range []SocketUse{TCPBind, UDPBind, UDPConnect, UDPOutgoingDatagram} {
		assert.False(t, p.Check(allowed, use), "address allowed for tcp-connect must not leak into %s", use)
	}

	assert.True(t, p.Check(addr(t, "8.8.8.8:53"), UDPOutgoingDatagram))
	assert.False(t, p.Check(addr(t, "8.8.8.8:53"), UDPConnect))
}

func TestPolicy_WildcardDominance(t *testing.T) {
	spec := &api.NetworkSpec{TCPBind: []string{"*:*"}}
	p := Resolve(context.Background(), spec, staticLookup(nil), nil)

	for _, a := range []string{"127.0.0.1:1", "[::1]:65535", "203.0.113.7:8080"} {
		assert.True(t, p.Check(addr(t, a), TCPBind))
	}
	assert.False(t, p.Check(addr(t, "127.0.0.1:1"), TCPConnect))
}

func TestPolicy_Determinism(t *testing.T) {
	spec := &api.NetworkSpec{TCPConnect: []string{"api.internal:443"}}
	lookup := staticLookup(map[string][]string{"api.internal": {"10.1.2.3"}})
	p := Resolve(context.Background(), spec, lookup, nil)

	target := addr(t, "10.1.2.3:443")
	first := p.Check(target, TCPConnect)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, p.Check(target, TCPConnect))
	}
	assert.True(t, first)
}

func TestPolicy_HostnameSharedAcrossUses(t *testing.T) {
	spec := &api.NetworkSpec{
		TCPConnect: []string{"db.svc:5432"},
		UDPConnect: []string{"db.svc:5432"},
	}
	calls := 0
	lookup := func(_ context.Context, host string) ([]netip.Addr, error) {
		calls++
		return []netip.Addr{netip.MustParseAddr("10.9.8.7")}, nil
	}
	p := Resolve(context.Background(), spec, lookup, nil)

	assert.Equal(t, 1, calls, "identical patterns resolve once")
	assert.True(t, p.Check(addr(t, "10.9.8.7:5432"), TCPConnect))
	assert.True(t, p.Check(addr(t, "10.9.8.7:5432"), UDPConnect))
}

func TestPolicy_IPv6Resolution(t *testing.T) {
	spec := &api.NetworkSpec{TCPConnect: []string{"v6.svc:8443"}}
	lookup := staticLookup(map[string][]string{"v6.svc": {"2001:db8::42"}})
	p := Resolve(context.Background(), spec, lookup, nil)

	require.Equal(t, []string{"[2001:db8::42]:8443"}, p.Resolutions("v6.svc:8443"))
	assert.True(t, p.Check(addr(t, "[2001:db8::42]:8443"), TCPConnect))
	assert.False(t, p.Check(addr(t, "[2001:db8::43]:8443"), TCPConnect))
}
