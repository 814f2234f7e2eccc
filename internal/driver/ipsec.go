package driver

import (
	"context"
	"sync"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// IPsecDriver renders one (tenant, ni, conn) into an IKE daemon
// connection block bound to a dedicated XFRM link, and loads/unloads
// it over the daemon's control channel.
//
// The control channel itself (e.g. a vici/strongSwan socket) is not
// wired here: this driver owns the if_id derivation, the XFRM link
// lifecycle, and the state machine: ControlChannel is the seam a
// concrete IKE daemon integration plugs into.
type IPsecDriver struct {
	id       Identity
	ids      alloc.Ids
	provider dataplane.Provider
	prefixes alloc.ServicePrefixes
	logger   *logging.Logger
	control  ControlChannel

	mu    sync.Mutex
	state State
	ifID  uint32
}

// ControlChannel is the seam to the IKE daemon managing the actual
// IKE/CHILD SA negotiation. A real implementation loads/unloads
// connection blocks over the daemon's control socket; tests substitute
// a fake that reports a connection established while it is loaded.
type ControlChannel interface {
	LoadConnection(ifID uint32, cfg *config.IPsecConfig) error
	UnloadConnection(ifID uint32) error
	IsEstablished(ifID uint32) (bool, error)
}

func (d *IPsecDriver) linkName() string { return "xfrm" + d.id.LinkName() }

func (d *IPsecDriver) Apply(ctx context.Context, desired *config.Connection) (ActualState, error) {
	ipsec := desired.Config.IPsec
	if ipsec == nil {
		return ActualState{}, verr.Errorf(verr.InvalidConfig, "connection %s has no ipsec config", d.id)
	}

	ifID, err := alloc.IfID(d.ids)
	if err != nil {
		return ActualState{}, verr.Wrap(err, verr.AllocatorExhausted, "derive if_id")
	}
	d.mu.Lock()
	d.ifID = ifID
	d.mu.Unlock()

	ns := d.id.NIID
	if _, err := d.provider.NamespaceEnsure(ns); err != nil {
		return ActualState{}, verr.Wrap(err, verr.KernelBusy, "ensure namespace")
	}
	if _, err := d.provider.LinkEnsure(ns, dataplane.LinkSpec{Kind: dataplane.LinkXFRM, Name: d.linkName(), IfID: ifID}); err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "ensure xfrm link")
	}

	d.transition(StateConfigured)

	if d.control != nil {
		if err := d.control.LoadConnection(ifID, ipsec); err != nil {
			d.transition(StateDegraded)
			return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "load ipsec connection")
		}
	}
	d.transition(StateConnecting)

	return d.Observe(ctx)
}

func (d *IPsecDriver) Observe(ctx context.Context) (ActualState, error) {
	d.mu.Lock()
	ifID := d.ifID
	current := d.state
	d.mu.Unlock()

	if d.control == nil {
		return ActualState{State: current, Detail: "no control channel wired"}, nil
	}
	established, err := d.control.IsEstablished(ifID)
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "query ike daemon")
	}
	if established {
		d.transition(StateActive)
		return ActualState{State: StateActive, Healthy: true}, nil
	}
	return ActualState{State: current}, nil
}

func (d *IPsecDriver) Teardown(ctx context.Context) error {
	d.mu.Lock()
	ifID := d.ifID
	d.mu.Unlock()

	var firstErr error
	if d.control != nil {
		if err := d.control.UnloadConnection(ifID); err != nil {
			firstErr = verr.Wrap(err, verr.DriverTransient, "unload ipsec connection")
		}
	}
	if _, err := d.provider.LinkDelete(d.id.NIID, d.linkName()); err != nil && firstErr == nil {
		firstErr = verr.Wrap(err, verr.DriverTransient, "remove xfrm link")
	}
	d.transition(StateTeardown)
	d.transition(StateIdle)
	return firstErr
}

func (d *IPsecDriver) transition(to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if CanTransition(d.state, to) {
		d.state = to
	}
}
