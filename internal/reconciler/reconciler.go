// Package reconciler implements the tenant/NI reconciliation loop
// (§4.5): for every published Snapshot, it diffs desired configuration
// against previously reconciled state and drives the dataplane and
// connection drivers to match, in the ordered create/destroy sequence
// the spec requires.
package reconciler

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/driver"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

// connKey uniquely identifies a connection across reconcile passes.
type connKey struct {
	ns     string
	connID int
}

// Reconciler owns the desired-vs-observed diff and drives the
// dataplane/driver layers to close the gap. A global namespace lock
// serializes namespace create/delete (§5); per-NI locks serialize
// everything else within one namespace so concurrent Reconcile calls
// for different NIs do not interfere.
type Reconciler struct {
	provider dataplane.Provider
	drivers  *driver.Manager
	prefixes alloc.ServicePrefixes
	logger   *logging.Logger

	nsLock sync.Mutex
	niLock sync.Map // ns string -> *sync.Mutex

	mu      sync.Mutex
	lastRun map[connKey]reconciledConn
}

type reconciledConn struct {
	tenantID string
	niID     string
	niIndex  int
	connType config.ConnectionType
}

// New builds a Reconciler bound to a dataplane provider and driver
// manager that already share the same provider instance.
func New(provider dataplane.Provider, drivers *driver.Manager, prefixes alloc.ServicePrefixes, logger *logging.Logger) *Reconciler {
	return &Reconciler{
		provider: provider,
		drivers:  drivers,
		prefixes: prefixes,
		logger:   logger,
		lastRun:  map[connKey]reconciledConn{},
	}
}

func (r *Reconciler) niMutex(ns string) *sync.Mutex {
	v, _ := r.niLock.LoadOrStore(ns, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Reconcile runs one full pass over the snapshot. Every dataplane
// primitive it calls is idempotent. Drivers keep no record of their
// last applied config: Manager.Ensure calls Apply for every connection
// on every pass, and each driver re-issues its own calls.
func (r *Reconciler) Reconcile(ctx context.Context, snap *config.Snapshot) error {
	desired := map[connKey]reconciledConn{}

	for _, tenantID := range sortedKeys(snap.Tenants) {
		tenant := snap.Tenants[tenantID]
		niIDs := sortedKeys(tenant.NetworkInstances)
		for niIndex, niID := range niIDs {
			ni := tenant.NetworkInstances[niID]
			r.reconcileNI(ctx, tenant.ID, niID, niIndex, ni)
			for connID, conn := range ni.Connections {
				desired[connKey{ns: niID, connID: connID}] = reconciledConn{
					tenantID: tenant.ID, niID: niID, niIndex: niIndex, connType: conn.Config.Type(),
				}
			}
		}
	}

	r.teardownRemoved(ctx, desired)

	r.mu.Lock()
	r.lastRun = desired
	r.mu.Unlock()
	return nil
}

// reconcileNI brings one network instance's namespace, links,
// addresses, routes and NAT64/NPTv6 rules to the desired state. After
// the namespace, each connection is handled in id order: driver apply
// (which also creates the connection's link) -> addresses -> routes and
// NPTv6 rules -> NAT64. Links are not created in a step of their own
// ahead of the addresses.
func (r *Reconciler) reconcileNI(ctx context.Context, tenantID, niID string, niIndex int, ni *config.NetworkInstance) {
	mu := r.niMutex(niID)
	mu.Lock()
	defer mu.Unlock()

	r.nsLock.Lock()
	_, err := r.provider.NamespaceEnsure(niID)
	r.nsLock.Unlock()
	if err != nil {
		r.logger.Warn("namespace ensure failed", "ni", niID, "error", err)
		return
	}

	connIDs := make([]int, 0, len(ni.Connections))
	for id := range ni.Connections {
		connIDs = append(connIDs, id)
	}
	sort.Ints(connIDs)

	claimed := map[string]int{} // route "to" -> winning connection id

	for _, connID := range connIDs {
		conn := ni.Connections[connID]
		ids := alloc.Ids{TenantID: tenantID, NIIndex: niIndex, ConnID: connID}
		identity := driver.Identity{TenantID: tenantID, NIID: niID, NIIndex: niIndex, ConnID: connID}

		if _, err := r.drivers.Ensure(ctx, identity, conn); err != nil {
			r.logger.Warn("driver apply failed", "connection", identity.String(), "error", err)
			continue
		}

		allocation, err := alloc.Allocate(ids, r.prefixes)
		if err != nil {
			r.logger.Warn("prefix allocation failed", "connection", identity.String(), "error", err)
			continue
		}

		linkName := driver.LinkNameFor(identity, conn.Config.Type())
		ifaceAddrs := []*net.IPNet{allocation.V4Iface, allocation.V6Iface}
		if _, err := r.provider.AddrEnsure(niID, linkName, ifaceAddrs); err != nil {
			r.logger.Warn("address ensure failed", "connection", identity.String(), "error", err)
		}

		r.reconcileRoutes(niID, connID, conn, ids, linkName, claimed)
		r.reconcileNAT64(niID, connID, allocation)
	}
}

// reconcileRoutes installs every route on conn, applying the lowest-
// connection-id-wins tie-break for routes whose destination is already
// claimed by another connection in the same NI.
func (r *Reconciler) reconcileRoutes(niID string, connID int, conn *config.Connection, ids alloc.Ids, linkName string, claimed map[string]int) {
	for i, route := range conn.Routes {
		if winner, ok := claimed[route.To]; ok && winner != connID {
			r.logger.Warn("route shadowed by lower connection id", "event", "RouteShadowed", "ni", niID, "connection", connID, "to", route.To, "winner", winner)
			continue
		}
		claimed[route.To] = connID

		_, dst, err := net.ParseCIDR(route.To)
		if err != nil {
			r.logger.Warn("invalid route destination", "ni", niID, "connection", connID, "to", route.To, "error", err)
			continue
		}

		spec := dataplane.RouteSpec{LinkName: linkName, Dst: dst}
		if route.Via != "" {
			spec.Via = net.ParseIP(route.Via)
		}
		if _, err := r.provider.RouteEnsure(niID, spec); err != nil {
			r.logger.Warn("route ensure failed", "ni", niID, "connection", connID, "to", route.To, "error", err)
		}

		if route.NPTv6 {
			ones, _ := dst.Mask.Size()
			nptv6Dst, err := alloc.NPTv6Prefix(ids, i, ones, parsePrefix(route.NPTv6Prefix))
			if err != nil {
				r.logger.Warn("nptv6 allocation failed", "ni", niID, "connection", connID, "to", route.To, "error", err)
				continue
			}
			if _, err := r.provider.NPTv6RuleEnsure(niID, dst, nptv6Dst); err != nil {
				r.logger.Warn("nptv6 rule ensure failed", "ni", niID, "connection", connID, "to", route.To, "error", err)
			}
		}
	}
}

func parsePrefix(s string) *net.IPNet {
	if s == "" {
		return nil
	}
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return nil
	}
	return n
}

func (r *Reconciler) reconcileNAT64(niID string, connID int, allocation *alloc.Allocation) {
	if _, err := r.provider.NAT64InstanceEnsure(niID, allocation.NAT64); err != nil {
		r.logger.Warn("nat64 ensure failed", "ni", niID, "connection", connID, "error", err)
	}
}

// teardownRemoved tears down every connection present in the previous
// run but absent from desired, in the reverse order §4.5 requires:
// NAT64/NPTv6 rules, routes, transport teardown, then the namespace
// itself once its last connection is gone.
func (r *Reconciler) teardownRemoved(ctx context.Context, desired map[connKey]reconciledConn) {
	r.mu.Lock()
	last := r.lastRun
	r.mu.Unlock()

	remainingNS := map[string]bool{}
	for key := range desired {
		remainingNS[key.ns] = true
	}

	for key, info := range last {
		if _, ok := desired[key]; ok {
			continue
		}

		mu := r.niMutex(key.ns)
		mu.Lock()

		if _, err := r.provider.NAT64InstanceRemove(key.ns); err != nil {
			r.logger.Warn("nat64 remove failed", "ni", key.ns, "connection", key.connID, "error", err)
		}
		identity := driver.Identity{TenantID: info.tenantID, NIID: info.niID, NIIndex: info.niIndex, ConnID: key.connID}
		linkName := driver.LinkNameFor(identity, info.connType)
		if _, err := r.provider.RouteFlush(key.ns, linkName); err != nil {
			r.logger.Warn("route flush failed", "ni", key.ns, "connection", key.connID, "error", err)
		}
		if err := r.drivers.Remove(ctx, identity); err != nil {
			r.logger.Warn("driver teardown failed", "connection", identity.String(), "error", err)
		}

		mu.Unlock()

		if !remainingNS[key.ns] {
			r.nsLock.Lock()
			if _, err := r.provider.NamespaceDelete(key.ns); err != nil {
				r.logger.Warn("namespace delete failed", "ni", key.ns, "error", err)
			}
			r.nsLock.Unlock()
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
