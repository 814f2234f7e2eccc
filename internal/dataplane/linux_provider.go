package dataplane

import (
	"net"
	"runtime"

	"github.com/google/nftables"
	"github.com/vishvananda/netlink"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// LinuxProvider is the real dataplane backed by netlink/netns/nftables.
// Methods that act inside a namespace (through withNamespace) lock the
// calling goroutine to its OS thread for the duration of the switch,
// since Linux namespace
// membership is per-thread, not per-process.
type LinuxProvider struct {
	nl Netlinker
	ns Namespacer
	nf *nftables.Conn
}

// NewLinuxProvider wires the real netlink/netns/nftables backends.
func NewLinuxProvider() *LinuxProvider {
	return &LinuxProvider{nl: RealNetlinker{}, ns: RealNamespacer{}, nf: &nftables.Conn{}}
}

// withNamespace runs fn with the calling thread moved into the named
// network namespace, restoring the original namespace afterward.
func (p *LinuxProvider) withNamespace(name string, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := p.ns.Get()
	if err != nil {
		return verr.Wrap(err, verr.KernelBusy, "get current namespace")
	}
	defer orig.Close()

	target, err := p.ns.GetFromName(name)
	if err != nil {
		return verr.Wrapf(err, verr.KernelBusy, "open namespace %s", name)
	}
	defer target.Close()

	if err := p.ns.Set(target); err != nil {
		return verr.Wrapf(err, verr.KernelBusy, "enter namespace %s", name)
	}
	defer p.ns.Set(orig)

	return fn()
}

// NamespaceEnsure creates the namespace if it does not already exist.
func (p *LinuxProvider) NamespaceEnsure(name string) (Result, error) {
	if _, err := p.ns.GetFromName(name); err == nil {
		return Unchanged, nil
	}
	if _, err := p.ns.NewNamed(name); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "create namespace %s", name)
	}
	return Created, nil
}

// NamespaceDelete removes the namespace if present.
func (p *LinuxProvider) NamespaceDelete(name string) (Result, error) {
	if _, err := p.ns.GetFromName(name); err != nil {
		return Unchanged, nil
	}
	if err := p.ns.DeleteNamed(name); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "delete namespace %s", name)
	}
	return Removed, nil
}

// LinkEnsure creates or updates the link described by spec inside ns.
func (p *LinuxProvider) LinkEnsure(ns string, spec LinkSpec) (Result, error) {
	var result Result
	err := p.withNamespace(ns, func() error {
		existing, err := p.nl.LinkByName(spec.Name)
		if err == nil {
			return p.updateLink(existing, spec, &result)
		}
		return p.createLink(spec, &result)
	})
	return result, err
}

func (p *LinuxProvider) updateLink(link netlink.Link, spec LinkSpec, result *Result) error {
	changed := false
	if spec.MTU != 0 && link.Attrs().MTU != spec.MTU {
		if err := p.nl.LinkSetMTU(link, spec.MTU); err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "set mtu on %s", spec.Name)
		}
		changed = true
	}
	if link.Attrs().OperState != netlink.OperUp {
		if err := p.nl.LinkSetUp(link); err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "bring up %s", spec.Name)
		}
		changed = true
	}
	if changed {
		*result = Changed
	} else {
		*result = Unchanged
	}
	return nil
}

func (p *LinuxProvider) createLink(spec LinkSpec, result *Result) error {
	base := netlink.LinkAttrs{Name: spec.Name}
	if spec.MTU != 0 {
		base.MTU = spec.MTU
	}

	var link netlink.Link
	switch spec.Kind {
	case LinkXFRM:
		link = &netlink.Xfrmi{LinkAttrs: base, Ifid: spec.IfID}
	case LinkWireGuard:
		link = &netlink.Wireguard{LinkAttrs: base}
	case LinkVeth:
		link = &netlink.Veth{LinkAttrs: base, PeerName: spec.PeerName}
	case LinkTUN:
		link = &netlink.Tuntap{LinkAttrs: base, Mode: netlink.TUNTAP_MODE_TUN}
	case LinkMoveExisting:
		existing, err := p.nl.LinkByName(spec.SourceName)
		if err != nil {
			return verr.Wrapf(err, verr.DriverFatal, "find source link %s", spec.SourceName)
		}
		if err := p.nl.LinkSetUp(existing); err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "bring up moved link %s", spec.SourceName)
		}
		*result = Created
		return nil
	default:
		return verr.Errorf(verr.InvalidConfig, "unknown link kind %q", spec.Kind)
	}

	if err := p.nl.LinkAdd(link); err != nil {
		return verr.Wrapf(err, verr.KernelBusy, "create link %s", spec.Name)
	}
	if err := p.nl.LinkSetUp(link); err != nil {
		return verr.Wrapf(err, verr.KernelBusy, "bring up %s", spec.Name)
	}
	*result = Created
	return nil
}

// LinkDelete removes a link from ns if present.
func (p *LinuxProvider) LinkDelete(ns, name string) (Result, error) {
	var result Result = Unchanged
	err := p.withNamespace(ns, func() error {
		link, err := p.nl.LinkByName(name)
		if err != nil {
			return nil
		}
		if err := p.nl.LinkDel(link); err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "delete link %s", name)
		}
		result = Removed
		return nil
	})
	return result, err
}

// AddrEnsure reconciles a link's addresses to exactly addrs.
func (p *LinuxProvider) AddrEnsure(ns, link string, addrs []*net.IPNet) (Result, error) {
	var result Result = Unchanged
	err := p.withNamespace(ns, func() error {
		l, err := p.nl.LinkByName(link)
		if err != nil {
			return verr.Wrapf(err, verr.DriverFatal, "find link %s", link)
		}
		want := map[string]*net.IPNet{}
		for _, a := range addrs {
			want[a.String()] = a
		}

		have, err := p.nl.AddrList(l, netlink.FAMILY_ALL)
		if err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "list addrs on %s", link)
		}
		haveSet := map[string]bool{}
		for _, a := range have {
			haveSet[a.IPNet.String()] = true
		}

		for key, net := range want {
			if haveSet[key] {
				continue
			}
			if err := p.nl.AddrAdd(l, &netlink.Addr{IPNet: net}); err != nil {
				return verr.Wrapf(err, verr.KernelBusy, "add addr %s to %s", key, link)
			}
			result = Changed
		}
		for _, a := range have {
			if want[a.IPNet.String()] == nil {
				if err := p.nl.AddrDel(l, &a); err != nil {
					return verr.Wrapf(err, verr.KernelBusy, "remove addr %s from %s", a.IPNet.String(), link)
				}
				result = Changed
			}
		}
		return nil
	})
	return result, err
}

// AddrFlush removes all addresses from link.
func (p *LinuxProvider) AddrFlush(ns, link string) (Result, error) {
	return p.AddrEnsure(ns, link, nil)
}

// RouteEnsure installs route if not already present.
func (p *LinuxProvider) RouteEnsure(ns string, route RouteSpec) (Result, error) {
	var result Result = Unchanged
	err := p.withNamespace(ns, func() error {
		l, err := p.nl.LinkByName(route.LinkName)
		if err != nil {
			return verr.Wrapf(err, verr.DriverFatal, "find link %s", route.LinkName)
		}
		existing, err := p.nl.RouteList(l, netlink.FAMILY_ALL)
		if err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "list routes on %s", route.LinkName)
		}
		for _, r := range existing {
			if r.Dst != nil && r.Dst.String() == route.Dst.String() && r.Gw.Equal(route.Via) {
				return nil
			}
		}
		if err := p.nl.RouteAdd(&netlink.Route{LinkIndex: l.Attrs().Index, Dst: route.Dst, Gw: route.Via}); err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "add route %s", route.Dst.String())
		}
		result = Created
		return nil
	})
	return result, err
}

// RouteFlush removes every route pinned to link.
func (p *LinuxProvider) RouteFlush(ns, link string) (Result, error) {
	var result Result = Unchanged
	err := p.withNamespace(ns, func() error {
		l, err := p.nl.LinkByName(link)
		if err != nil {
			return nil
		}
		routes, err := p.nl.RouteList(l, netlink.FAMILY_ALL)
		if err != nil {
			return verr.Wrapf(err, verr.KernelBusy, "list routes on %s", link)
		}
		for _, r := range routes {
			route := r
			if err := p.nl.RouteDel(&route); err != nil {
				return verr.Wrapf(err, verr.KernelBusy, "remove route on %s", link)
			}
			result = Removed
		}
		return nil
	})
	return result, err
}

// NAT64InstanceEnsure creates an nftables IPv6 table dedicated to ns
// with an empty postrouting NAT chain. It adds no rule to that chain:
// pool6 is not written into the ruleset, so no translation is
// programmed.
func (p *LinuxProvider) NAT64InstanceEnsure(ns string, pool6 *net.IPNet) (Result, error) {
	table := p.nf.AddTable(&nftables.Table{Name: "vpncd_nat64_" + ns, Family: nftables.TableFamilyIPv6})
	p.nf.AddChain(&nftables.Chain{
		Name:     "postrouting",
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})
	if err := p.nf.Flush(); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "bind nat64 instance in %s", ns)
	}
	return Created, nil
}

// NAT64InstanceRemove unbinds the NAT64 table for ns.
func (p *LinuxProvider) NAT64InstanceRemove(ns string) (Result, error) {
	p.nf.DelTable(&nftables.Table{Name: "vpncd_nat64_" + ns, Family: nftables.TableFamilyIPv6})
	if err := p.nf.Flush(); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "unbind nat64 instance in %s", ns)
	}
	return Removed, nil
}

// NPTv6RuleEnsure creates a postrouting NAT chain named after src in
// ns's NPTv6 table. It adds no rule to that chain: dst is not written
// into the ruleset, so no rewrite is programmed.
func (p *LinuxProvider) NPTv6RuleEnsure(ns string, src, dst *net.IPNet) (Result, error) {
	table := p.nf.AddTable(&nftables.Table{Name: "vpncd_nptv6_" + ns, Family: nftables.TableFamilyIPv6})
	p.nf.AddChain(&nftables.Chain{
		Name:     "nptv6_" + src.String(),
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})
	if err := p.nf.Flush(); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "install nptv6 rule %s -> %s", src, dst)
	}
	return Created, nil
}

// NPTv6RuleRemove removes a previously installed rewrite rule.
func (p *LinuxProvider) NPTv6RuleRemove(ns string, src *net.IPNet) (Result, error) {
	table := &nftables.Table{Name: "vpncd_nptv6_" + ns, Family: nftables.TableFamilyIPv6}
	p.nf.DelChain(&nftables.Chain{Name: "nptv6_" + src.String(), Table: table})
	if err := p.nf.Flush(); err != nil {
		return Unchanged, verr.Wrapf(err, verr.KernelBusy, "remove nptv6 rule for %s", src)
	}
	return Removed, nil
}
