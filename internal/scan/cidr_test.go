package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anava-ai/anava-connector/internal/vapix"
)

func TestExpandCIDRSlash24(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/24")
	require.NoError(t, err)

	// network .0 and broadcast .255 are skipped
	require.Len(t, ips, 254)
	assert.Equal(t, "192.168.50.1", ips[0])
	assert.Equal(t, "192.168.50.254", ips[253])
}

func TestExpandCIDRHostCounts(t *testing.T) {
	cases := []struct {
		cidr string
		want int
	}{
		{"10.0.0.0/30", 2},
		{"10.0.0.0/29", 6},
		{"10.0.0.0/28", 14},
		{"172.16.0.0/16", 65534},
		{"10.0.0.0/31", 0},
		{"10.0.0.4/32", 0},
	}
	for _, tc := range cases {
		t.Run(tc.cidr, func(t *testing.T) {
			ips, err := ExpandCIDR(tc.cidr)
			require.NoError(t, err)
			assert.Len(t, ips, tc.want)
		})
	}
}

func TestExpandCIDRNonCanonicalBase(t *testing.T) {
	// a base inside the subnet expands to the same range as the network
	// address
	a, err := ExpandCIDR("192.168.50.77/24")
	require.NoError(t, err)
	b, err := ExpandCIDR("192.168.50.0/24")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestExpandCIDRToleratesExtraSuffix(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/24/office")
	require.NoError(t, err)
	assert.Len(t, ips, 254)
}

func TestExpandCIDRRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"192.168.50.0",
		"not-an-ip/24",
		"192.168.50.0/abc",
		"192.168.50.0/-1",
		"192.168.50.0/33",
		"fe80::1/64",
	}
	for _, cidr := range cases {
		t.Run(cidr, func(t *testing.T) {
			_, err := ExpandCIDR(cidr)
			require.Error(t, err)
			assert.Equal(t, KindInvalidCIDR, vapix.KindOf(err))
		})
	}
}

func TestExpandCIDRRoundTrip(t *testing.T) {
	ips, err := ExpandCIDR("192.168.50.0/24")
	require.NoError(t, err)

	// re-expanding from the range's own bounds reproduces the range
	first, err := ExpandCIDR(ips[0] + "/24")
	require.NoError(t, err)
	last, err := ExpandCIDR(ips[len(ips)-1] + "/24")
	require.NoError(t, err)
	assert.Equal(t, ips, first)
	assert.Equal(t, ips, last)
}
