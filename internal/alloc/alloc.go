// Package alloc implements the deterministic prefix allocator: a pure
// function from tenant/NI/connection identity and the service's
// allocator prefixes to the concrete subnets a connection's dataplane
// link is built from. It never touches the kernel or the config store
// and never mutates shared state — callers run it fresh every
// reconcile pass and compare the result against observed state.
package alloc

import (
	"math/big"
	"net"
	"strconv"
	"strings"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// Ids identifies the connection a set of prefixes is being derived for.
type Ids struct {
	TenantID string
	NIIndex  int // n_num: the tenant-scoped index of this NI, 0-based
	ConnID   int // c_num: the connection id, 0..255
}

// ServicePrefixes are the four allocator prefixes carried on the
// DEFAULT tenant's service block.
type ServicePrefixes struct {
	InterfaceV4 *net.IPNet // /16
	InterfaceV6 *net.IPNet // /32
	NAT64       *net.IPNet // /32
	NPTv6       *net.IPNet // /12
}

// Allocation is the full set of prefixes one connection owns.
type Allocation struct {
	V4Iface *net.IPNet // /28, carved from InterfaceV4
	V6Iface *net.IPNet // /64, carved from InterfaceV6
	NAT64   *net.IPNet // /96, carved from NAT64
}

const (
	v4IfacePrefixLen = 28
	v6IfacePrefixLen = 64
	nat64PrefixLen   = 96
)

// tenantParts splits a tenant id into its role nibble and numeric
// part. "DEFAULT" has no role nibble and cannot be allocated against;
// callers must route DEFAULT's own EXTERNAL/CORE NIs through the
// service prefixes directly rather than through Allocate.
func tenantParts(tenantID string) (letter uint64, num uint64, err error) {
	if len(tenantID) != 5 {
		return 0, 0, verr.Errorf(verr.AllocatorExhausted, "tenant id %q has no allocator identity", tenantID)
	}
	l := tenantID[0]
	switch l {
	case 'C', 'D', 'E':
	default:
		return 0, 0, verr.Errorf(verr.AllocatorExhausted, "tenant id %q has no allocator identity", tenantID)
	}
	n, err := strconv.ParseUint(tenantID[1:], 10, 16)
	if err != nil {
		return 0, 0, verr.Wrapf(err, verr.AllocatorExhausted, "tenant id %q has non-numeric suffix", tenantID)
	}
	// The role letter folds into the same 16-bit group scheme as
	// t_num/n_num/c_num as its hex-nibble value (c=12, d=13, e=14), not
	// its ASCII byte.
	nibble, err := strconv.ParseUint(strings.ToLower(string(l)), 16, 8)
	if err != nil {
		return 0, 0, verr.Wrapf(err, verr.AllocatorExhausted, "tenant id %q has unmappable role letter", tenantID)
	}
	return nibble, n, nil
}

// Allocate derives the per-connection v4/v6 interface prefixes and
// NAT64 /96 for the given identity. It is a pure function: the same
// inputs always produce the same outputs, and distinct inputs that
// stay within the declared pool sizes always produce disjoint outputs.
func Allocate(ids Ids, prefixes ServicePrefixes) (*Allocation, error) {
	letter, tenantNum, err := tenantParts(ids.TenantID)
	if err != nil {
		return nil, err
	}
	if ids.NIIndex < 0 || ids.ConnID < 0 || ids.ConnID > 255 {
		return nil, verr.Errorf(verr.AllocatorExhausted, "connection id %d out of range 0-255", ids.ConnID)
	}

	nat64, err := nat64Address(prefixes.NAT64, letter, tenantNum, uint64(ids.NIIndex), uint64(ids.ConnID))
	if err != nil {
		return nil, err
	}

	// index combines tenant number, NI index and connection id into a
	// single dense offset into the shared interface pools so that any
	// two distinct (tenant, ni, conn) triples land on disjoint subnets.
	index := tenantNum*uint64(1<<16) + uint64(ids.NIIndex)*256 + uint64(ids.ConnID)

	v4, err := carveSubnet(prefixes.InterfaceV4, v4IfacePrefixLen, index)
	if err != nil {
		return nil, verr.Wrap(err, verr.AllocatorExhausted, "interface v4 pool exhausted")
	}
	v6, err := carveSubnet(prefixes.InterfaceV6, v6IfacePrefixLen, index)
	if err != nil {
		return nil, verr.Wrap(err, verr.AllocatorExhausted, "interface v6 pool exhausted")
	}

	return &Allocation{V4Iface: v4, V6Iface: v6, NAT64: nat64}, nil
}

// nat64Address builds the per-connection NAT64 /96: the service
// prefix's fixed bits, followed by one 16-bit group each for the
// tenant's role letter, tenant number, NI index and connection id, with
// the remaining 32 bits (the embedded IPv4 address) left zero.
func nat64Address(base *net.IPNet, letter uint64, tenantNum, niIndex, connID uint64) (*net.IPNet, error) {
	ones, bits := base.Mask.Size()
	if bits != 128 || ones != nat64PrefixLen-64 {
		// base must be exactly the declared /32 service prefix; a
		// differently-sized base is a config-time bug, not a pool
		// exhaustion, but it is reported the same way since both are
		// "the allocator cannot satisfy this request".
		return nil, verr.Errorf(verr.AllocatorExhausted, "nat64 base prefix must be /32, got /%d", ones)
	}

	addr := make(net.IP, net.IPv6len)
	copy(addr, base.IP.To16())
	putGroup(addr, 2, letter)
	putGroup(addr, 3, tenantNum)
	putGroup(addr, 4, niIndex)
	putGroup(addr, 5, connID)

	return &net.IPNet{IP: addr, Mask: net.CIDRMask(nat64PrefixLen, 128)}, nil
}

// putGroup sets the groupIdx'th 16-bit group (0-indexed from the start
// of a 16-byte address) to value, which must fit in 16 bits.
func putGroup(addr net.IP, groupIdx int, value uint64) {
	off := groupIdx * 2
	addr[off] = byte(value >> 8)
	addr[off+1] = byte(value)
}

// carveSubnet returns the index'th subnet of length newPrefixLen
// within base, or AllocatorExhausted if index falls outside base's
// capacity.
func carveSubnet(base *net.IPNet, newPrefixLen int, index uint64) (*net.IPNet, error) {
	baseOnes, bits := base.Mask.Size()
	if newPrefixLen < baseOnes || newPrefixLen > bits {
		return nil, verr.Errorf(verr.AllocatorExhausted, "subnet length /%d incompatible with base /%d", newPrefixLen, baseOnes)
	}
	available := new(big.Int).Lsh(big.NewInt(1), uint(newPrefixLen-baseOnes))
	if new(big.Int).SetUint64(index).Cmp(available) >= 0 {
		return nil, verr.Errorf(verr.AllocatorExhausted, "index %d exceeds pool capacity %s", index, available.String())
	}

	baseInt := ipToInt(base.IP, bits)
	shift := uint(bits - newPrefixLen)
	offset := new(big.Int).Lsh(new(big.Int).SetUint64(index), shift)
	subnetInt := new(big.Int).Add(baseInt, offset)

	return &net.IPNet{
		IP:   intToIP(subnetInt, bits),
		Mask: net.CIDRMask(newPrefixLen, bits),
	}, nil
}

func ipToInt(ip net.IP, bits int) *big.Int {
	if bits == 32 {
		return new(big.Int).SetBytes(ip.To4())
	}
	return new(big.Int).SetBytes(ip.To16())
}

func intToIP(i *big.Int, bits int) net.IP {
	byteLen := bits / 8
	b := i.Bytes()
	out := make([]byte, byteLen)
	copy(out[byteLen-len(b):], b)
	if bits == 32 {
		return net.IP(out).To4()
	}
	return net.IP(out)
}
