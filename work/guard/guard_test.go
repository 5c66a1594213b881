package guard

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemes(t *testing.T) {
	g := New()
	ctx := context.Background()

	cases := []string{
		"ftp://example.com/playlist.m3u8",
		"file:///etc/passwd",
		"gopher://example.com/",
		"javascript:alert(1)",
		"://not a url",
		"http://",
	}
	for _, raw := range cases {
		_, err := g.Validate(ctx, raw)
		assert.ErrorIs(t, err, ErrBadScheme, "url %q", raw)
	}
}

func TestValidateLiteralPrivateAddresses(t *testing.T) {
	g := New()
	ctx := context.Background()

	cases := []string{
		"http://127.0.0.1/playlist.m3u8",
		"http://10.0.0.5:8080/tv.m3u",
		"http://192.168.1.1/",
		"http://172.16.3.4/x.ts",
		"http://169.254.169.254/latest/meta-data/",
		"http://100.64.0.1/",
		"http://0.0.0.0/",
		"http://[::1]/x.m3u8",
		"http://[fe80::1]/x.m3u8",
		"http://[fd00::1]/x.m3u8",
	}
	for _, raw := range cases {
		_, err := g.Validate(ctx, raw)
		assert.ErrorIs(t, err, ErrNoPublicAddr, "url %q", raw)
	}
}

func TestValidateLiteralPublicAddress(t *testing.T) {
	g := New()

	u, err := g.Validate(context.Background(), "http://93.184.216.34/playlist.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", u.Hostname())
}

func TestIsPublicAddr(t *testing.T) {
	private := []string{
		"127.0.0.1", "10.1.2.3", "192.168.0.1", "172.31.255.255",
		"169.254.0.1", "100.64.0.1", "0.0.0.0", "192.0.2.10",
		"198.51.100.7", "203.0.113.9", "198.18.0.1", "240.0.0.1",
		"255.255.255.255", "::1", "fe80::1", "fc00::1", "ff02::1",
		"2001:db8::1", "::",
	}
	for _, s := range private {
		assert.False(t, IsPublicAddr(netip.MustParseAddr(s)), "addr %s", s)
	}

	public := []string{"93.184.216.34", "8.8.8.8", "2606:2800:220:1:248:1893:25c8:1946"}
	for _, s := range public {
		assert.True(t, IsPublicAddr(netip.MustParseAddr(s)), "addr %s", s)
	}

	// v4-mapped v6 addresses are unmapped before classification
	assert.False(t, IsPublicAddr(netip.MustParseAddr("::ffff:127.0.0.1")))
	assert.True(t, IsPublicAddr(netip.MustParseAddr("::ffff:8.8.8.8")))
}

func TestDialControlRejectsPrivatePeer(t *testing.T) {
	g := New()

	err := g.DialControl("tcp4", "127.0.0.1:80", nil)
	assert.ErrorIs(t, err, ErrPrivatePeer)

	err = g.DialControl("tcp4", "10.9.8.7:443", nil)
	assert.ErrorIs(t, err, ErrPrivatePeer)

	err = g.DialControl("tcp4", "not-an-addr", nil)
	assert.ErrorIs(t, err, ErrPrivatePeer)

	err = g.DialControl("tcp4", "93.184.216.34:443", nil)
	assert.NoError(t, err)
}
