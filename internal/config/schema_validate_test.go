package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTenant() *Tenant {
	return &Tenant{
		ID: "C0001",
		NetworkInstances: map[string]*NetworkInstance{
			"external": {Type: NITypeExternal, Connections: map[int]*Connection{
				0: {ID: 0, Config: ConnectionConfig{Physical: &PhysicalConfig{InterfaceName: "eth0"}}},
			}},
			"core": {Type: NITypeCore},
		},
	}
}

func TestValidateTenant_IDPattern(t *testing.T) {
	tenant := validTenant()
	assert.Empty(t, ValidateTenant(tenant))

	tenant.ID = "bogus"
	errs := ValidateTenant(tenant)
	assert.True(t, errs.HasErrors())
}

func TestValidateTenant_DefaultRequiresService(t *testing.T) {
	tenant := validTenant()
	tenant.ID = "DEFAULT"
	errs := ValidateTenant(tenant)
	assert.True(t, errs.HasErrors())

	tenant.Service = &ServiceConfig{
		Mode:                      ModeHub,
		PrefixDownlinkInterfaceV4: "100.64.0.0/16",
		PrefixDownlinkInterfaceV6: "fd00:1::/32",
		PrefixDownlinkNAT64:       "64:ff9b::/96",
		PrefixDownlinkNPTv6:       "fd00:2::/32",
		BGP:                       BGPConfig{ASN: 65000, RouterID: "10.0.0.1"},
	}
	errs = ValidateTenant(tenant)
	assert.False(t, errs.HasErrors(), errs.Error())
}

func TestValidateTenant_NonDefaultRejectsService(t *testing.T) {
	tenant := validTenant()
	tenant.Service = &ServiceConfig{Mode: ModeHub}
	errs := ValidateTenant(tenant)
	assert.True(t, errs.HasErrors())
}

func TestValidateTenantNIRoles(t *testing.T) {
	tenant := validTenant()
	assert.Empty(t, ValidateTenantNIRoles(tenant, ModeHub))

	delete(tenant.NetworkInstances, "core")
	errs := ValidateTenantNIRoles(tenant, ModeHub)
	assert.True(t, errs.HasErrors())
}

func TestValidateTenantNIRoles_EndpointModeRequiresEndpointNI(t *testing.T) {
	tenant := validTenant()
	errs := ValidateTenantNIRoles(tenant, ModeEndpoint)
	assert.True(t, errs.HasErrors())

	tenant.NetworkInstances["endpoint"] = &NetworkInstance{Type: NITypeEndpoint}
	errs = ValidateTenantNIRoles(tenant, ModeEndpoint)
	assert.False(t, errs.HasErrors(), errs.Error())
}

func TestValidateConnection_ExactlyOneVariant(t *testing.T) {
	conn := &Connection{ID: 1, Config: ConnectionConfig{}}
	errs := validateConnection("conn", conn)
	assert.True(t, errs.HasErrors())

	conn.Config.Physical = &PhysicalConfig{InterfaceName: "eth1"}
	conn.Config.IPsec = &IPsecConfig{RemoteAddrs: []string{"203.0.113.1"}}
	errs = validateConnection("conn", conn)
	assert.True(t, errs.HasErrors())
}

func TestValidateConnection_IPsecRoutesAndSelectorsMutuallyExclusive(t *testing.T) {
	conn := &Connection{
		ID: 1,
		Routes: []Route{{To: "192.0.2.0/24"}},
		Config: ConnectionConfig{IPsec: &IPsecConfig{
			RemoteAddrs:      []string{"203.0.113.1"},
			TrafficSelectors: []string{"192.0.2.0/24"},
		}},
	}
	errs := validateConnection("conn", conn)
	assert.True(t, errs.HasErrors())
}

func TestValidateConnection_WireGuardRequiresKeys(t *testing.T) {
	conn := &Connection{ID: 1, Config: ConnectionConfig{WireGuard: &WireGuardConfig{}}}
	errs := validateConnection("conn", conn)
	assert.True(t, errs.HasErrors())

	conn.Config.WireGuard.PrivateKey = "a-key"
	conn.Config.WireGuard.PublicKey = "b-key"
	errs = validateConnection("conn", conn)
	assert.False(t, errs.HasErrors(), errs.Error())
}

func TestValidateConnection_SSHRemoteConfigRequiresInterface(t *testing.T) {
	conn := &Connection{ID: 1, Config: ConnectionConfig{SSH: &SSHConfig{
		Username:     "vpnc",
		RemoteConfig: true,
	}}}
	errs := validateConnection("conn", conn)
	assert.True(t, errs.HasErrors())
}
