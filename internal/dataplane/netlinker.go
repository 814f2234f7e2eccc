package dataplane

import (
	"net"

	"github.com/vishvananda/netlink"
)

// Netlinker is the subset of vishvananda/netlink this package needs,
// narrowed to an interface so LinuxProvider can be exercised against a
// fake in tests without a real kernel or root.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	LinkSetMaster(link netlink.Link, master netlink.Link) error
	LinkSetNsFd(link netlink.Link, fd int) error

	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	ParseAddr(s string) (*netlink.Addr, error)
	ParseIPNet(s string) (*net.IPNet, error)

	RouteList(link netlink.Link, family int) ([]netlink.Route, error)
	RouteAdd(route *netlink.Route) error
	RouteDel(route *netlink.Route) error

	RuleAdd(rule *netlink.Rule) error
	RuleDel(rule *netlink.Rule) error
	RuleList(family int) ([]netlink.Rule, error)
}

// RealNetlinker forwards every call to the package-level vishvananda/
// netlink functions. It carries no state of its own.
type RealNetlinker struct{}

func (RealNetlinker) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (RealNetlinker) LinkAdd(link netlink.Link) error              { return netlink.LinkAdd(link) }
func (RealNetlinker) LinkDel(link netlink.Link) error              { return netlink.LinkDel(link) }
func (RealNetlinker) LinkSetUp(link netlink.Link) error            { return netlink.LinkSetUp(link) }
func (RealNetlinker) LinkSetDown(link netlink.Link) error          { return netlink.LinkSetDown(link) }
func (RealNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return netlink.LinkSetMTU(link, mtu)
}
func (RealNetlinker) LinkSetMaster(link netlink.Link, master netlink.Link) error {
	return netlink.LinkSetMaster(link, master)
}
func (RealNetlinker) LinkSetNsFd(link netlink.Link, fd int) error {
	return netlink.LinkSetNsFd(link, fd)
}

func (RealNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	return netlink.AddrList(link, family)
}
func (RealNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}
func (RealNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrDel(link, addr)
}
func (RealNetlinker) ParseAddr(s string) (*netlink.Addr, error) { return netlink.ParseAddr(s) }
func (RealNetlinker) ParseIPNet(s string) (*net.IPNet, error)   { return netlink.ParseIPNet(s) }

func (RealNetlinker) RouteList(link netlink.Link, family int) ([]netlink.Route, error) {
	return netlink.RouteList(link, family)
}
func (RealNetlinker) RouteAdd(route *netlink.Route) error { return netlink.RouteAdd(route) }
func (RealNetlinker) RouteDel(route *netlink.Route) error { return netlink.RouteDel(route) }

func (RealNetlinker) RuleAdd(rule *netlink.Rule) error { return netlink.RuleAdd(rule) }
func (RealNetlinker) RuleDel(rule *netlink.Rule) error { return netlink.RuleDel(rule) }
func (RealNetlinker) RuleList(family int) ([]netlink.Rule, error) {
	return netlink.RuleList(family)
}
