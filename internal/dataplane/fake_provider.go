package dataplane

import (
	"fmt"
	"net"
	"sync"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

type fakeLink struct {
	spec  LinkSpec
	addrs map[string]*net.IPNet
	routes map[string]RouteSpec
}

type fakeNamespace struct {
	links  map[string]*fakeLink
	nat64  *net.IPNet
	nptv6  map[string]*net.IPNet
}

// FakeProvider is an in-memory Provider used by reconciler and driver
// tests so they exercise the same idempotence contract as LinuxProvider
// without a real kernel or root privileges.
type FakeProvider struct {
	mu sync.Mutex
	ns map[string]*fakeNamespace
}

// NewFakeProvider returns an empty in-memory dataplane.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{ns: map[string]*fakeNamespace{}}
}

func (f *FakeProvider) namespace(name string) (*fakeNamespace, bool) {
	ns, ok := f.ns[name]
	return ns, ok
}

func (f *FakeProvider) NamespaceEnsure(name string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ns[name]; ok {
		return Unchanged, nil
	}
	f.ns[name] = &fakeNamespace{links: map[string]*fakeLink{}, nptv6: map[string]*net.IPNet{}}
	return Created, nil
}

func (f *FakeProvider) NamespaceDelete(name string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ns[name]; !ok {
		return Unchanged, nil
	}
	delete(f.ns, name)
	return Removed, nil
}

func (f *FakeProvider) LinkEnsure(ns string, spec LinkSpec) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "namespace %s does not exist", ns)
	}
	existing, ok := n.links[spec.Name]
	if !ok {
		n.links[spec.Name] = &fakeLink{spec: spec, addrs: map[string]*net.IPNet{}, routes: map[string]RouteSpec{}}
		return Created, nil
	}
	if existing.spec == spec {
		return Unchanged, nil
	}
	existing.spec = spec
	return Changed, nil
}

func (f *FakeProvider) LinkDelete(ns, name string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, nil
	}
	if _, ok := n.links[name]; !ok {
		return Unchanged, nil
	}
	delete(n.links, name)
	return Removed, nil
}

func (f *FakeProvider) AddrEnsure(ns, link string, addrs []*net.IPNet) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "namespace %s does not exist", ns)
	}
	l, ok := n.links[link]
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "link %s does not exist in %s", link, ns)
	}

	want := map[string]*net.IPNet{}
	for _, a := range addrs {
		want[a.String()] = a
	}

	changed := false
	for k := range l.addrs {
		if want[k] == nil {
			delete(l.addrs, k)
			changed = true
		}
	}
	for k, a := range want {
		if l.addrs[k] == nil {
			l.addrs[k] = a
			changed = true
		}
	}
	if changed {
		return Changed, nil
	}
	return Unchanged, nil
}

func (f *FakeProvider) AddrFlush(ns, link string) (Result, error) {
	return f.AddrEnsure(ns, link, nil)
}

func routeKey(r RouteSpec) string {
	return fmt.Sprintf("%s|%s|%s", r.LinkName, r.Dst.String(), r.Via.String())
}

func (f *FakeProvider) RouteEnsure(ns string, route RouteSpec) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "namespace %s does not exist", ns)
	}
	l, ok := n.links[route.LinkName]
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "link %s does not exist in %s", route.LinkName, ns)
	}
	key := routeKey(route)
	if _, ok := l.routes[key]; ok {
		return Unchanged, nil
	}
	l.routes[key] = route
	return Created, nil
}

func (f *FakeProvider) RouteFlush(ns, link string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, nil
	}
	l, ok := n.links[link]
	if !ok || len(l.routes) == 0 {
		return Unchanged, nil
	}
	l.routes = map[string]RouteSpec{}
	return Removed, nil
}

func (f *FakeProvider) NAT64InstanceEnsure(ns string, pool6 *net.IPNet) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "namespace %s does not exist", ns)
	}
	if n.nat64 != nil && n.nat64.String() == pool6.String() {
		return Unchanged, nil
	}
	n.nat64 = pool6
	return Created, nil
}

func (f *FakeProvider) NAT64InstanceRemove(ns string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok || n.nat64 == nil {
		return Unchanged, nil
	}
	n.nat64 = nil
	return Removed, nil
}

func (f *FakeProvider) NPTv6RuleEnsure(ns string, src, dst *net.IPNet) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, verr.Errorf(verr.DriverFatal, "namespace %s does not exist", ns)
	}
	key := src.String()
	if existing, ok := n.nptv6[key]; ok && existing.String() == dst.String() {
		return Unchanged, nil
	}
	n.nptv6[key] = dst
	return Created, nil
}

func (f *FakeProvider) NPTv6RuleRemove(ns string, src *net.IPNet) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.namespace(ns)
	if !ok {
		return Unchanged, nil
	}
	key := src.String()
	if _, ok := n.nptv6[key]; !ok {
		return Unchanged, nil
	}
	delete(n.nptv6, key)
	return Removed, nil
}
