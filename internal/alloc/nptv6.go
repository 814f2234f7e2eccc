package alloc

import (
	"net"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// letterCode maps the three valid tenant role nibbles (c=12, d=13,
// e=14, as returned by tenantParts) to a dense 2-bit index, freeing up
// bits for the rest of the packed NPTv6 index relative to using the
// full hex nibble as nat64Address does.
func letterCode(letter uint64) (uint64, error) {
	switch letter {
	case 0xc:
		return 0, nil
	case 0xd:
		return 1, nil
	case 0xe:
		return 2, nil
	default:
		return 0, verr.Errorf(verr.AllocatorExhausted, "unknown tenant role nibble %x", letter)
	}
}

// NPTv6Prefix derives the 1:1 NPTv6 rewrite target for one downlink
// route. toPrefixLen is the prefix length of the route's own "to"
// network; the result has the same length when the service's NPTv6
// pool has enough spare bits to encode the connection's identity plus
// the route index distinctly, and fails with AllocatorExhausted
// otherwise (routes sharing a connection must each get their own
// routeIndex to stay disjoint).
func NPTv6Prefix(ids Ids, routeIndex int, toPrefixLen int, nptv6Base *net.IPNet) (*net.IPNet, error) {
	letter, tenantNum, err := tenantParts(ids.TenantID)
	if err != nil {
		return nil, err
	}
	if routeIndex < 0 {
		return nil, verr.Errorf(verr.AllocatorExhausted, "route index %d must be non-negative", routeIndex)
	}
	lc, err := letterCode(letter)
	if err != nil {
		return nil, err
	}
	if tenantNum >= (1 << 14) {
		return nil, verr.Errorf(verr.AllocatorExhausted, "tenant number %d exceeds 14-bit allocator budget", tenantNum)
	}

	index := lc
	index = index<<14 | tenantNum
	index = index<<8 | uint64(uint8(ids.NIIndex))
	index = index<<8 | uint64(uint8(ids.ConnID))
	index = index<<8 | uint64(uint8(routeIndex))

	return carveSubnet(nptv6Base, toPrefixLen, index)
}

// IfID derives the XFRM interface id an IPsec connection's link binds
// to, packing the tenant's role code, tenant number, NI index and
// connection id into a single uint32 so both ends of a tunnel compute
// the same value from their own config independently.
func IfID(ids Ids) (uint32, error) {
	letter, tenantNum, err := tenantParts(ids.TenantID)
	if err != nil {
		return 0, err
	}
	lc, err := letterCode(letter)
	if err != nil {
		return 0, err
	}
	if tenantNum >= (1 << 14) {
		return 0, verr.Errorf(verr.AllocatorExhausted, "tenant number %d exceeds 14-bit allocator budget", tenantNum)
	}
	id := lc
	id = id<<14 | tenantNum
	id = id<<8 | uint64(uint8(ids.NIIndex))
	id = id<<8 | uint64(uint8(ids.ConnID))
	return uint32(id), nil
}
