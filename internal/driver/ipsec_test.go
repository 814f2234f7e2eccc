package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
)

type fakeControlChannel struct {
	established map[uint32]bool
}

func (f *fakeControlChannel) LoadConnection(ifID uint32, cfg *config.IPsecConfig) error {
	if f.established == nil {
		f.established = map[uint32]bool{}
	}
	f.established[ifID] = true
	return nil
}

func (f *fakeControlChannel) UnloadConnection(ifID uint32) error {
	delete(f.established, ifID)
	return nil
}

func (f *fakeControlChannel) IsEstablished(ifID uint32) (bool, error) {
	return f.established[ifID], nil
}

func TestIPsecDriver_ApplyReachesActiveViaControlChannel(t *testing.T) {
	provider := dataplane.NewFakeProvider()
	d := &IPsecDriver{
		id:       Identity{TenantID: "C0001", NIID: "C0001-00", NIIndex: 0, ConnID: 0},
		ids:      alloc.Ids{TenantID: "C0001", NIIndex: 0, ConnID: 0},
		provider: provider,
		logger:   logging.New(logging.DefaultConfig()),
		control:  &fakeControlChannel{},
	}

	conn := &config.Connection{
		Config: config.ConnectionConfig{IPsec: &config.IPsecConfig{
			RemoteAddrs: []string{"203.0.113.1"},
			PSK:         "secret",
		}},
	}

	state, err := d.Apply(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, StateActive, state.State)

	require.NoError(t, d.Teardown(context.Background()))
	observed, err := d.Observe(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, observed.State)
}
