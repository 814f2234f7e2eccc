// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package status implements the daemon's read-only query surface
// (§6): a per-connection status summary, active NAT64/NPTv6
// translations, a BGP neighbor summary, and the health/metrics
// surfaces, joined from the active config store and the driver
// manager's observed state the same way the reconciler itself derives
// dataplane state — Collect never mutates anything, it only reads.
package status

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/driver"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/health"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/routingdaemon"
)

// ConnectionStatus is one connection's desired identity joined with
// its driver's last observed state.
type ConnectionStatus struct {
	Tenant          string   `json:"tenant"`
	NetworkInstance string   `json:"network_instance"`
	Connection      int      `json:"connection"`
	Type            string   `json:"type"`
	State           string   `json:"state"`
	Healthy         bool     `json:"healthy"`
	Interface       string   `json:"interface"`
	Addresses       []string `json:"addresses,omitempty"`
	Remote          []string `json:"remote,omitempty"`
}

// NATTranslation is one connection's active NAT64 binding and any
// NPTv6 rewrites its winning routes carry.
type NATTranslation struct {
	NetworkInstance string   `json:"network_instance"`
	Connection      int      `json:"connection"`
	NAT64           string   `json:"nat64,omitempty"`
	NPTv6           []string `json:"nptv6,omitempty"`
}

// BGPNeighborSummary is one configured uplink peer on one core NI's
// last-rendered BGP instance.
type BGPNeighborSummary struct {
	NetworkInstance string `json:"network_instance"`
	Neighbor        string `json:"neighbor"`
	ASN             uint32 `json:"asn"`
	Priority        int    `json:"priority"`
}

// Snapshot is the full read-only query response.
type Snapshot struct {
	Connections []ConnectionStatus   `json:"connections"`
	NAT         []NATTranslation     `json:"nat"`
	BGP         []BGPNeighborSummary `json:"bgp"`
	Health      health.Report        `json:"health"`
}

// Collector derives a Snapshot from the active config store, the
// driver manager's observed state, and the routing daemon's
// last-rendered BGP instances.
type Collector struct {
	store    *config.Store
	drivers  *driver.Manager
	prefixes alloc.ServicePrefixes
	checker  *health.Checker

	mu  sync.Mutex
	bgp []routingdaemon.Instance
}

// NewCollector builds a Collector bound to the daemon's already
// constructed components.
func NewCollector(store *config.Store, drivers *driver.Manager, prefixes alloc.ServicePrefixes, checker *health.Checker) *Collector {
	return &Collector{store: store, drivers: drivers, prefixes: prefixes, checker: checker}
}

// SetBGPInstances records the routing daemon instances from the most
// recent successful render, for the BGP query surface to report
// against.
func (c *Collector) SetBGPInstances(instances []routingdaemon.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bgp = instances
}

// Collect derives a fresh Snapshot from current config and observed
// driver state.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	snap, err := c.store.LoadActive()
	if err != nil {
		return Snapshot{}, err
	}
	observed := c.drivers.Observe(ctx)

	var conns []ConnectionStatus
	var nat []NATTranslation

	for _, tenantID := range sortedKeys(snap.Tenants) {
		tenant := snap.Tenants[tenantID]
		for niIndex, niID := range sortedKeys(tenant.NetworkInstances) {
			ni := tenant.NetworkInstances[niID]
			connIDs := make([]int, 0, len(ni.Connections))
			for id := range ni.Connections {
				connIDs = append(connIDs, id)
			}
			sort.Ints(connIDs)

			claimed := map[string]int{}
			for _, connID := range connIDs {
				conn := ni.Connections[connID]
				identity := driver.Identity{TenantID: tenantID, NIID: niID, NIIndex: niIndex, ConnID: connID}
				connType := conn.Config.Type()

				state := observed[identity.String()]
				addrs, _ := conn.InterfaceAddresses.Parsed()
				addrStrs := make([]string, 0, len(addrs))
				for _, a := range addrs {
					addrStrs = append(addrStrs, a.String())
				}

				conns = append(conns, ConnectionStatus{
					Tenant:          tenantID,
					NetworkInstance: niID,
					Connection:      connID,
					Type:            string(connType),
					State:           string(state.State),
					Healthy:         state.Healthy,
					Interface:       driver.LinkNameFor(identity, connType),
					Addresses:       addrStrs,
					Remote:          remoteAddrs(conn.Config),
				})

				ids := alloc.Ids{TenantID: tenantID, NIIndex: niIndex, ConnID: connID}
				allocation, err := alloc.Allocate(ids, c.prefixes)
				if err != nil {
					continue
				}
				translation := NATTranslation{NetworkInstance: niID, Connection: connID, NAT64: allocation.NAT64.String()}
				for i, route := range conn.Routes {
					if winner, ok := claimed[route.To]; ok && winner != connID {
						continue
					}
					claimed[route.To] = connID
					if !route.NPTv6 {
						continue
					}
					_, dst, err := net.ParseCIDR(route.To)
					if err != nil {
						continue
					}
					ones, _ := dst.Mask.Size()
					nptv6Dst, err := alloc.NPTv6Prefix(ids, i, ones, parsePrefix(route.NPTv6Prefix))
					if err != nil {
						continue
					}
					translation.NPTv6 = append(translation.NPTv6, nptv6Dst.String())
				}
				nat = append(nat, translation)
			}
		}
	}

	c.mu.Lock()
	bgpInstances := c.bgp
	c.mu.Unlock()

	var bgp []BGPNeighborSummary
	for _, inst := range bgpInstances {
		for _, nb := range inst.Neighbors {
			bgp = append(bgp, BGPNeighborSummary{NetworkInstance: inst.NIID, Neighbor: nb.Address, ASN: nb.ASN, Priority: nb.Priority})
		}
	}

	var healthReport health.Report
	if c.checker != nil {
		healthReport = c.checker.Run(ctx)
	}

	return Snapshot{Connections: conns, NAT: nat, BGP: bgp, Health: healthReport}, nil
}

func remoteAddrs(cfg config.ConnectionConfig) []string {
	switch {
	case cfg.IPsec != nil:
		return cfg.IPsec.RemoteAddrs
	case cfg.WireGuard != nil:
		return cfg.WireGuard.RemoteAddrs
	case cfg.SSH != nil:
		return cfg.SSH.RemoteAddrs
	default:
		return nil
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

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
