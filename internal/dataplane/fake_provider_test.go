package dataplane

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

func TestFakeProvider_NamespaceEnsureIdempotent(t *testing.T) {
	p := NewFakeProvider()

	r1, err := p.NamespaceEnsure("C0001-00")
	require.NoError(t, err)
	assert.Equal(t, Created, r1)

	r2, err := p.NamespaceEnsure("C0001-00")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, r2)
}

func TestFakeProvider_LinkEnsureCreateThenUnchanged(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.NamespaceEnsure("ns0")
	require.NoError(t, err)

	spec := LinkSpec{Kind: LinkXFRM, Name: "xfrm0", IfID: 1}
	r1, err := p.LinkEnsure("ns0", spec)
	require.NoError(t, err)
	assert.Equal(t, Created, r1)

	r2, err := p.LinkEnsure("ns0", spec)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, r2)

	spec.MTU = 1400
	r3, err := p.LinkEnsure("ns0", spec)
	require.NoError(t, err)
	assert.Equal(t, Changed, r3)
}

func TestFakeProvider_LinkEnsureRequiresNamespace(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.LinkEnsure("missing", LinkSpec{Kind: LinkXFRM, Name: "xfrm0"})
	assert.Error(t, err)
}

func TestFakeProvider_AddrEnsureReconciles(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.NamespaceEnsure("ns0")
	require.NoError(t, err)
	_, err = p.LinkEnsure("ns0", LinkSpec{Kind: LinkWireGuard, Name: "wg0"})
	require.NoError(t, err)

	addr := mustCIDR(t, "192.0.2.1/30")
	r1, err := p.AddrEnsure("ns0", "wg0", []*net.IPNet{addr})
	require.NoError(t, err)
	assert.Equal(t, Changed, r1)

	r2, err := p.AddrEnsure("ns0", "wg0", []*net.IPNet{addr})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, r2)

	r3, err := p.AddrFlush("ns0", "wg0")
	require.NoError(t, err)
	assert.Equal(t, Changed, r3)
}

func TestFakeProvider_RouteEnsureIdempotent(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.NamespaceEnsure("ns0")
	require.NoError(t, err)
	_, err = p.LinkEnsure("ns0", LinkSpec{Kind: LinkWireGuard, Name: "wg0"})
	require.NoError(t, err)

	route := RouteSpec{LinkName: "wg0", Dst: mustCIDR(t, "2001:db8::/48"), Via: net.ParseIP("fe80::1")}
	r1, err := p.RouteEnsure("ns0", route)
	require.NoError(t, err)
	assert.Equal(t, Created, r1)

	r2, err := p.RouteEnsure("ns0", route)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, r2)
}

func TestFakeProvider_NAT64AndNPTv6Lifecycle(t *testing.T) {
	p := NewFakeProvider()
	_, err := p.NamespaceEnsure("ns0")
	require.NoError(t, err)

	pool := mustCIDR(t, "fdcc:0:c:1::/96")
	r1, err := p.NAT64InstanceEnsure("ns0", pool)
	require.NoError(t, err)
	assert.Equal(t, Created, r1)

	r2, err := p.NAT64InstanceEnsure("ns0", pool)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, r2)

	r3, err := p.NAT64InstanceRemove("ns0")
	require.NoError(t, err)
	assert.Equal(t, Removed, r3)

	src := mustCIDR(t, "2001:db8:c58::/48")
	dst := mustCIDR(t, "fdff:db8:c58::/48")
	r4, err := p.NPTv6RuleEnsure("ns0", src, dst)
	require.NoError(t, err)
	assert.Equal(t, Created, r4)

	r5, err := p.NPTv6RuleRemove("ns0", src)
	require.NoError(t, err)
	assert.Equal(t, Removed, r5)
}
