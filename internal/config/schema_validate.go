package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidateTenant checks a tenant document against the id/prefix/role
// invariants. It does not check cross-tenant prefix disjointness, and
// Commit does not run the allocator either: allocation errors surface
// only when the reconciler applies the tenant.
func ValidateTenant(t *Tenant) ValidationErrors {
	var errs ValidationErrors

	if !TenantIDPattern.MatchString(t.ID) {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("%q does not match ^(DEFAULT|[CDE]\\d{4})$", t.ID),
		})
	}

	if t.ID == "DEFAULT" {
		if t.Service == nil {
			errs = append(errs, ValidationError{Field: "service", Message: "DEFAULT tenant must carry a service block"})
		} else {
			errs = append(errs, validateServiceConfig(t.Service)...)
		}
	} else if t.Service != nil {
		errs = append(errs, ValidationError{Field: "service", Message: "only the DEFAULT tenant may carry a service block"})
	}

	for niID, ni := range t.NetworkInstances {
		errs = append(errs, validateNetworkInstance(t.ID, niID, ni)...)
	}

	return errs
}

func validateServiceConfig(s *ServiceConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Mode {
	case ModeHub, ModeEndpoint:
	default:
		errs = append(errs, ValidationError{Field: "service.mode", Message: fmt.Sprintf("invalid mode %q, must be hub or endpoint", s.Mode)})
	}

	for field, prefix := range map[string]string{
		"service.prefix_downlink_interface_v4": s.PrefixDownlinkInterfaceV4,
		"service.prefix_downlink_interface_v6": s.PrefixDownlinkInterfaceV6,
		"service.prefix_downlink_nat64":        s.PrefixDownlinkNAT64,
		"service.prefix_downlink_nptv6":        s.PrefixDownlinkNPTv6,
	} {
		if prefix == "" {
			errs = append(errs, ValidationError{Field: field, Message: "must be set"})
			continue
		}
		if _, _, err := net.ParseCIDR(prefix); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid CIDR: %v", err)})
		}
	}

	if s.BGP.ASN == 0 {
		errs = append(errs, ValidationError{Field: "service.bgp.asn", Message: "must be set"})
	}
	if s.BGP.RouterID != "" && net.ParseIP(s.BGP.RouterID) == nil {
		errs = append(errs, ValidationError{Field: "service.bgp.router_id", Message: "not a valid IP address"})
	}
	for i, n := range s.BGP.Neighbors {
		field := fmt.Sprintf("service.bgp.neighbors[%d]", i)
		if net.ParseIP(n.Address) == nil {
			errs = append(errs, ValidationError{Field: field + ".address", Message: fmt.Sprintf("%q is not a valid IP address", n.Address)})
		}
		if n.ASN == 0 {
			errs = append(errs, ValidationError{Field: field + ".asn", Message: "must be set"})
		}
	}

	return errs
}

func validateNetworkInstance(tenantID, niID string, ni *NetworkInstance) ValidationErrors {
	var errs ValidationErrors
	field := func(suffix string) string { return fmt.Sprintf("network_instances[%s].%s", niID, suffix) }

	switch ni.Type {
	case NITypeExternal, NITypeCore, NITypeDownlink, NITypeEndpoint:
	default:
		errs = append(errs, ValidationError{Field: field("type"), Message: fmt.Sprintf("invalid type %q", ni.Type)})
	}

	// Exactly one EXTERNAL and exactly one CORE network instance per
	// tenant is checked at the tenant level by the caller that ranges
	// over all NIs; here we only validate each NI's own content.

	for connID, conn := range ni.Connections {
		if connID < 0 || connID > 255 {
			errs = append(errs, ValidationError{Field: field(fmt.Sprintf("connections[%d]", connID)), Message: "connection id must be 0-255"})
		}
		errs = append(errs, validateConnection(field(fmt.Sprintf("connections[%d]", connID)), conn)...)
	}

	return errs
}

// ValidateTenantNIRoles enforces the cross-NI invariant that a tenant
// carries exactly one EXTERNAL network instance and exactly one CORE
// network instance (ENDPOINT-mode tenants additionally require exactly
// one ENDPOINT network instance).
func ValidateTenantNIRoles(t *Tenant, serviceMode Mode) ValidationErrors {
	var errs ValidationErrors
	counts := map[NIType]int{}
	for _, ni := range t.NetworkInstances {
		counts[ni.Type]++
	}

	if counts[NITypeExternal] != 1 {
		errs = append(errs, ValidationError{Field: "network_instances", Message: fmt.Sprintf("expected exactly one external network instance, found %d", counts[NITypeExternal])})
	}
	if counts[NITypeCore] != 1 {
		errs = append(errs, ValidationError{Field: "network_instances", Message: fmt.Sprintf("expected exactly one core network instance, found %d", counts[NITypeCore])})
	}
	if serviceMode == ModeEndpoint && counts[NITypeEndpoint] != 1 {
		errs = append(errs, ValidationError{Field: "network_instances", Message: fmt.Sprintf("endpoint-mode tenant expected exactly one endpoint network instance, found %d", counts[NITypeEndpoint])})
	}

	return errs
}

func validateConnection(field string, c *Connection) ValidationErrors {
	var errs ValidationErrors

	n := c.Config.variantCount()
	switch {
	case n == 0:
		errs = append(errs, ValidationError{Field: field + ".config", Message: "exactly one of physical/ipsec/wireguard/ssh must be set"})
	case n > 1:
		errs = append(errs, ValidationError{Field: field + ".config", Message: fmt.Sprintf("exactly one of physical/ipsec/wireguard/ssh must be set, found %d", n)})
	}

	if ipsec := c.Config.IPsec; ipsec != nil {
		hasRoutes := len(c.Routes) > 0
		hasTS := len(ipsec.TrafficSelectors) > 0
		if hasRoutes && hasTS {
			errs = append(errs, ValidationError{
				Field:   field + ".config.ipsec",
				Message: "routes and traffic_selectors are mutually exclusive",
			})
		}
		if len(ipsec.RemoteAddrs) == 0 {
			errs = append(errs, ValidationError{Field: field + ".config.ipsec.remote_addrs", Message: "must have at least one address"})
		}
	}

	if wg := c.Config.WireGuard; wg != nil {
		if wg.PrivateKey == "" {
			errs = append(errs, ValidationError{Field: field + ".config.wireguard.private_key", Message: "must be set"})
		}
		if wg.PublicKey == "" {
			errs = append(errs, ValidationError{Field: field + ".config.wireguard.public_key", Message: "must be set"})
		}
	}

	if ssh := c.Config.SSH; ssh != nil {
		if strings.TrimSpace(ssh.Username) == "" {
			errs = append(errs, ValidationError{Field: field + ".config.ssh.username", Message: "must be set"})
		}
		if ssh.RemoteConfig && ssh.RemoteConfigInterface == "" {
			errs = append(errs, ValidationError{Field: field + ".config.ssh.remote_config_interface", Message: "required when remote_config is true"})
		}
	}

	if phys := c.Config.Physical; phys != nil && phys.InterfaceName == "" {
		errs = append(errs, ValidationError{Field: field + ".config.physical.interface_name", Message: "must be set"})
	}

	return errs
}
