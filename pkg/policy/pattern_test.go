package policy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, s string) netip.AddrPort {
	t.Helper()
	ap, err := netip.ParseAddrPort(s)
	require.NoError(t, err)
	return ap
}

func TestParsePattern_Invalid(t *testing.T) {
	for _, in := range []string{"", "no-port", ":8080", "host:", "host:http", "host:70000", "[::1:8080"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePattern(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPattern)
		})
	}
}

func TestPattern_Wildcards(t *testing.T) {
	tests := []struct {
		pattern string
		addr    string
		want    bool
	}{
		{"*:*", "127.0.0.1:8080", true},
		{"*:*", "[::1]:1", true},
		{"*:443", "1.2.3.4:443", true},
		{"*:443", "1.2.3.4:80", false},
		{"127.0.0.1:*", "127.0.0.1:8080", true},
		{"127.0.0.1:*", "127.0.0.2:8080", false},
		{"127.0.0.1:8080", "127.0.0.1:8080", true},
		{"127.0.0.1:8080", "127.0.0.1:9090", false},
		{"192.168.1.1:8080", "127.0.0.1:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.addr, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(addr(t, tt.addr)))
		})
	}
}

func TestPattern_IPv6Brackets(t *testing.T) {
	p, err := ParsePattern("[::1]:8080")
	require.NoError(t, err)

	assert.True(t, p.Matches(addr(t, "[::1]:8080")))
	assert.False(t, p.Matches(addr(t, "[::1]:8081")))
	assert.False(t, p.Matches(addr(t, "127.0.0.1:8080")), "IPv6 loopback must not match IPv4")
}

func TestPattern_DNSNameNeverMatchesDirectly(t *testing.T) {
	p, err := ParsePattern("localhost:8080")
	require.NoError(t, err)

	assert.True(t, p.IsName())
	assert.False(t, p.Matches(addr(t, "127.0.0.1:8080")))
}

func TestPattern_WithIP(t *testing.T) {
	p, err := ParsePattern("example.com:443")
	require.NoError(t, err)

	v4 := p.WithIP(netip.MustParseAddr("1.2.3.4"))
	assert.Equal(t, "1.2.3.4:443", v4.String())
	assert.True(t, v4.Matches(addr(t, "1.2.3.4:443")))
	assert.False(t, v4.Matches(addr(t, "1.2.3.4:80")))

	v6 := p.WithIP(netip.MustParseAddr("2001:db8::1"))
	assert.Equal(t, "[2001:db8::1]:443", v6.String(), "IPv6 results are re-bracketed")
	assert.True(t, v6.Matches(addr(t, "[2001:db8::1]:443")))

	wild, err := ParsePattern("example.com:*")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4:*", wild.WithIP(netip.MustParseAddr("1.2.3.4")).String())
}
