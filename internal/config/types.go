// Package config implements the tenant/service YAML configuration store:
// schema types, validation, and the candidate/active commit workflow.
package config

import (
	"net"
	"regexp"
)

// TenantIDPattern is the required shape of a tenant identifier: the
// literal "DEFAULT", or a role letter (C/D/E) followed by 4 digits.
var TenantIDPattern = regexp.MustCompile(`^(DEFAULT|[CDE]\d{4})$`)

// Mode is the service-wide operating mode.
type Mode string

const (
	ModeHub      Mode = "hub"
	ModeEndpoint Mode = "endpoint"
)

// NIType is the role a network instance plays.
type NIType string

const (
	NITypeExternal NIType = "external"
	NITypeCore     NIType = "core"
	NITypeDownlink NIType = "downlink"
	NITypeEndpoint NIType = "endpoint"
)

// Initiation controls which side of an IPsec connection starts the
// tunnel.
type Initiation string

const (
	InitiationStart Initiation = "start"
	InitiationNone  Initiation = "none"
)

// Tenant is one tenant's full configuration, as stored in
// <tenant-id>.yaml.
type Tenant struct {
	ID               string                      `yaml:"-"`
	Name             string                      `yaml:"name,omitempty"`
	Metadata         map[string]string           `yaml:"metadata,omitempty"`
	NetworkInstances map[string]*NetworkInstance `yaml:"network_instances,omitempty"`

	// Service holds the DEFAULT tenant's service-wide fields. Populated
	// only when ID == "DEFAULT".
	Service *ServiceConfig `yaml:"service,omitempty"`
}

// NetworkInstance is one network namespace's worth of configuration.
type NetworkInstance struct {
	ID          string                 `yaml:"-"`
	Type        NIType                 `yaml:"type"`
	Metadata    map[string]string      `yaml:"metadata,omitempty"`
	Connections map[int]*Connection    `yaml:"connections,omitempty"`
}

// Connection is a single tunnel/link within a network instance.
type Connection struct {
	ID                 int                 `yaml:"id"`
	InterfaceAddresses *InterfaceAddresses `yaml:"interface_addresses,omitempty"`
	Routes             []Route             `yaml:"routes,omitempty"`
	Config             ConnectionConfig    `yaml:"config"`
}

// InterfaceAddresses holds per-family addresses assigned to a
// connection's link.
type InterfaceAddresses struct {
	IPv4 []string `yaml:"ipv4,omitempty"`
	IPv6 []string `yaml:"ipv6,omitempty"`
}

// Parsed returns every configured address as a *net.IPNet, in IPv4
// then IPv6 order. A nil receiver returns an empty, non-nil slice.
func (a *InterfaceAddresses) Parsed() ([]*net.IPNet, error) {
	if a == nil {
		return []*net.IPNet{}, nil
	}
	out := make([]*net.IPNet, 0, len(a.IPv4)+len(a.IPv6))
	for _, s := range append(append([]string{}, a.IPv4...), a.IPv6...) {
		ip, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		ipnet.IP = ip
		out = append(out, ipnet)
	}
	return out, nil
}

// Route is one downlink route, optionally carrying an NPTv6 rewrite.
type Route struct {
	To          string `yaml:"to"`
	Via         string `yaml:"via,omitempty"`
	NPTv6       bool   `yaml:"nptv6,omitempty"`
	NPTv6Prefix string `yaml:"nptv6_prefix,omitempty"`
}

// ConnectionConfig is the tagged union of transport variants. Exactly
// one field must be set; which one determines the connection's driver
// and its Type().
type ConnectionConfig struct {
	Physical  *PhysicalConfig  `yaml:"physical,omitempty"`
	IPsec     *IPsecConfig     `yaml:"ipsec,omitempty"`
	WireGuard *WireGuardConfig `yaml:"wireguard,omitempty"`
	SSH       *SSHConfig       `yaml:"ssh,omitempty"`
}

// ConnectionType names which ConnectionConfig variant is populated.
type ConnectionType string

const (
	ConnUnknown   ConnectionType = ""
	ConnPhysical  ConnectionType = "physical"
	ConnIPsec     ConnectionType = "ipsec"
	ConnWireGuard ConnectionType = "wireguard"
	ConnSSH       ConnectionType = "ssh"
)

// Type reports which transport variant is populated, or ConnUnknown if
// none (or more than one) is set — callers should validate first.
func (c ConnectionConfig) Type() ConnectionType {
	switch c.variantCount() {
	case 1:
		switch {
		case c.Physical != nil:
			return ConnPhysical
		case c.IPsec != nil:
			return ConnIPsec
		case c.WireGuard != nil:
			return ConnWireGuard
		case c.SSH != nil:
			return ConnSSH
		}
	}
	return ConnUnknown
}

func (c ConnectionConfig) variantCount() int {
	n := 0
	if c.Physical != nil {
		n++
	}
	if c.IPsec != nil {
		n++
	}
	if c.WireGuard != nil {
		n++
	}
	if c.SSH != nil {
		n++
	}
	return n
}

// PhysicalConfig moves an existing link into the network instance.
type PhysicalConfig struct {
	InterfaceName string `yaml:"interface_name"`
}

// IPsecConfig configures an IKEv2 connection rendered into the IKE
// daemon's config.
type IPsecConfig struct {
	RemoteAddrs      []string   `yaml:"remote_addrs"`
	LocalID          string     `yaml:"local_id,omitempty"`
	RemoteID         string     `yaml:"remote_id,omitempty"`
	IKEVersion       int        `yaml:"ike_version,omitempty"`
	IKEProposal      string     `yaml:"ike_proposal"`
	IKELifetime      string     `yaml:"ike_lifetime"`
	IPsecProposal    string     `yaml:"ipsec_proposal"`
	IPsecLifetime    string     `yaml:"ipsec_lifetime"`
	Initiation       Initiation `yaml:"initiation,omitempty"`
	PSK              string     `yaml:"psk"`
	TrafficSelectors []string   `yaml:"traffic_selectors,omitempty"`
}

// WireGuardConfig configures a single-peer WireGuard link.
type WireGuardConfig struct {
	LocalPort  int      `yaml:"local_port,omitempty"`
	RemoteAddrs []string `yaml:"remote_addrs"`
	RemotePort int      `yaml:"remote_port"`
	PrivateKey string   `yaml:"private_key"`
	PublicKey  string   `yaml:"public_key"`
}

// SSHConfig configures a supervised SSH tunnel.
type SSHConfig struct {
	RemoteAddrs           []string `yaml:"remote_addrs"`
	RemoteTunnelID        int      `yaml:"remote_tunnel_id"`
	Username              string   `yaml:"username"`
	RemoteConfig          bool     `yaml:"remote_config,omitempty"`
	RemoteConfigInterface string   `yaml:"remote_config_interface,omitempty"`
}

// ServiceConfig is DEFAULT.yaml's service-level fields.
type ServiceConfig struct {
	Mode                      Mode       `yaml:"mode"`
	PrefixDownlinkInterfaceV4 string     `yaml:"prefix_downlink_interface_v4"`
	PrefixDownlinkInterfaceV6 string     `yaml:"prefix_downlink_interface_v6"`
	PrefixDownlinkNAT64       string     `yaml:"prefix_downlink_nat64"`
	PrefixDownlinkNPTv6       string     `yaml:"prefix_downlink_nptv6"`
	BGP                       BGPConfig  `yaml:"bgp"`
}

// BGPConfig holds the service's BGP globals and peer list.
type BGPConfig struct {
	ASN      uint32        `yaml:"asn"`
	RouterID string        `yaml:"router_id"`
	BFD      bool          `yaml:"bfd,omitempty"`
	Neighbors []BGPNeighbor `yaml:"neighbors,omitempty"`
}

// BGPNeighbor is one configured uplink peer.
type BGPNeighbor struct {
	Address  string `yaml:"address"`
	ASN      uint32 `yaml:"asn"`
	Priority int    `yaml:"priority"`
}
