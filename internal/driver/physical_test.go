package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

func TestPhysicalDriver_ApplyAndTeardown(t *testing.T) {
	provider := dataplane.NewFakeProvider()
	_, err := provider.NamespaceEnsure("C0001-00")
	require.NoError(t, err)

	d := &PhysicalDriver{
		id:       Identity{TenantID: "C0001", NIID: "C0001-00", NIIndex: 0, ConnID: 0},
		provider: provider,
		logger:   logging.New(logging.DefaultConfig()),
	}

	conn := &config.Connection{
		Config: config.ConnectionConfig{Physical: &config.PhysicalConfig{InterfaceName: "eth3"}},
	}

	state, err := d.Apply(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, StateActive, state.State)

	require.NoError(t, d.Teardown(context.Background()))

	observed, err := d.Observe(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, observed.State)
}
