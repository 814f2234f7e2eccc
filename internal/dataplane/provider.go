// Package dataplane implements the idempotent kernel-object primitives
// the reconciler and connection drivers build on: namespaces, links,
// addresses, routes, NAT64 instances and NPTv6 rules. Every primitive
// is idempotent and reports which of {unchanged, changed, created} it
// did, so callers can emit events without tracking prior state
// themselves. Kernel access is hidden behind the Provider interface so
// that reconciler and driver tests run against an in-memory fake
// instead of a real namespace and root privileges.
package dataplane

import "net"

// Result reports what a primitive actually did.
type Result int

const (
	Unchanged Result = iota
	Changed
	Created
	Removed
)

func (r Result) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	case Created:
		return "created"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// LinkKind is the kind of virtual link a connection driver manages.
type LinkKind string

const (
	LinkXFRM        LinkKind = "xfrm"
	LinkWireGuard   LinkKind = "wireguard"
	LinkVeth        LinkKind = "veth"
	LinkTUN         LinkKind = "tun"
	LinkMoveExisting LinkKind = "move-existing"
)

// LinkSpec is the desired state of one link. Fields not relevant to
// Kind are ignored.
type LinkSpec struct {
	Kind LinkKind
	Name string
	MTU  int

	// IfID binds an xfrm link to a specific IPsec if_id.
	IfID uint32

	// PeerName is the veth peer link name, created in the root
	// namespace and moved alongside Name.
	PeerName string

	// SourceName is the existing interface to move for move-existing
	// and physical links.
	SourceName string
}

// RouteSpec is one desired route within a namespace.
type RouteSpec struct {
	LinkName string
	Dst      *net.IPNet
	Via      net.IP
}

// Provider is the full set of dataplane primitives. LinuxProvider is
// the real implementation; FakeProvider is the in-memory test double.
type Provider interface {
	NamespaceEnsure(name string) (Result, error)
	NamespaceDelete(name string) (Result, error)

	LinkEnsure(ns string, spec LinkSpec) (Result, error)
	LinkDelete(ns, name string) (Result, error)

	AddrEnsure(ns, link string, addrs []*net.IPNet) (Result, error)
	AddrFlush(ns, link string) (Result, error)

	RouteEnsure(ns string, route RouteSpec) (Result, error)
	RouteFlush(ns, link string) (Result, error)

	NAT64InstanceEnsure(ns string, pool6 *net.IPNet) (Result, error)
	NAT64InstanceRemove(ns string) (Result, error)

	NPTv6RuleEnsure(ns string, src, dst *net.IPNet) (Result, error)
	NPTv6RuleRemove(ns string, src *net.IPNet) (Result, error)
}
