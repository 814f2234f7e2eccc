package alloc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func testPrefixes(t *testing.T) ServicePrefixes {
	return ServicePrefixes{
		InterfaceV4: mustCIDR(t, "100.64.0.0/16"),
		InterfaceV6: mustCIDR(t, "fd00:1::/32"),
		NAT64:       mustCIDR(t, "fdcc:0::/32"),
		NPTv6:       mustCIDR(t, "fd00::/12"),
	}
}

func TestAllocate_Deterministic(t *testing.T) {
	prefixes := testPrefixes(t)
	ids := Ids{TenantID: "C0001", NIIndex: 0, ConnID: 0}

	a1, err := Allocate(ids, prefixes)
	require.NoError(t, err)
	a2, err := Allocate(ids, prefixes)
	require.NoError(t, err)

	assert.Equal(t, a1.V4Iface.String(), a2.V4Iface.String())
	assert.Equal(t, a1.V6Iface.String(), a2.V6Iface.String())
	assert.Equal(t, a1.NAT64.String(), a2.NAT64.String())
}

func TestAllocate_DisjointAcrossConnections(t *testing.T) {
	prefixes := testPrefixes(t)
	seen := map[string]bool{}

	for _, ids := range []Ids{
		{TenantID: "C0001", NIIndex: 0, ConnID: 0},
		{TenantID: "C0001", NIIndex: 0, ConnID: 1},
		{TenantID: "C0001", NIIndex: 1, ConnID: 0},
		{TenantID: "D0002", NIIndex: 0, ConnID: 0},
	} {
		a, err := Allocate(ids, prefixes)
		require.NoError(t, err)
		for _, n := range []*net.IPNet{a.V4Iface, a.V6Iface, a.NAT64} {
			assert.False(t, seen[n.String()], "duplicate allocation %s for %+v", n.String(), ids)
			seen[n.String()] = true
		}
	}
}

func TestAllocate_NAT64Encoding(t *testing.T) {
	prefixes := testPrefixes(t)
	ids := Ids{TenantID: "C0001", NIIndex: 0, ConnID: 0}

	a, err := Allocate(ids, prefixes)
	require.NoError(t, err)
	ones, bits := a.NAT64.Mask.Size()
	assert.Equal(t, 96, ones)
	assert.Equal(t, 128, bits)
	// fdcc:0::/32 + t_letter:t_num:n_num:c_num (c:1:0:0), the canonical
	// (RFC 5952) text form of scenario S1's fdcc:0:c:1:0:0::/96 — the
	// role letter folds in as its hex nibble (c=12), not its ASCII byte.
	assert.Equal(t, "fdcc:0:c:1::/96", a.NAT64.String())
}

func TestAllocate_NAT64EncodingDifferentTenantAndNI(t *testing.T) {
	prefixes := testPrefixes(t)
	ids := Ids{TenantID: "D0002", NIIndex: 3, ConnID: 7}

	a, err := Allocate(ids, prefixes)
	require.NoError(t, err)
	assert.Equal(t, "fdcc:0:d:2:3:7::/96", a.NAT64.String())
}

func TestAllocate_RejectsUnknownTenantLetter(t *testing.T) {
	prefixes := testPrefixes(t)
	_, err := Allocate(Ids{TenantID: "X0001"}, prefixes)
	assert.Error(t, err)
}

func TestAllocate_RejectsConnIDOutOfRange(t *testing.T) {
	prefixes := testPrefixes(t)
	_, err := Allocate(Ids{TenantID: "C0001", ConnID: 256}, prefixes)
	assert.Error(t, err)
}

func TestNPTv6Prefix_MatchesRequestedLength(t *testing.T) {
	prefixes := testPrefixes(t)
	ids := Ids{TenantID: "C0001", NIIndex: 1, ConnID: 0}

	n, err := NPTv6Prefix(ids, 0, 48, prefixes.NPTv6)
	require.NoError(t, err)
	ones, _ := n.Mask.Size()
	assert.Equal(t, 48, ones)
}

func TestNPTv6Prefix_DisjointByRouteIndex(t *testing.T) {
	prefixes := testPrefixes(t)
	ids := Ids{TenantID: "C0001", NIIndex: 1, ConnID: 0}

	n0, err := NPTv6Prefix(ids, 0, 48, prefixes.NPTv6)
	require.NoError(t, err)
	n1, err := NPTv6Prefix(ids, 1, 48, prefixes.NPTv6)
	require.NoError(t, err)

	assert.NotEqual(t, n0.String(), n1.String())
}
