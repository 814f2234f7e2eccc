package driver

import (
	"context"
	"sync"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// PhysicalDriver moves an already-existing link into the connection's
// network instance and moves it back out on teardown.
type PhysicalDriver struct {
	id       Identity
	provider dataplane.Provider
	logger   *logging.Logger

	mu    sync.Mutex
	state State
}

func (d *PhysicalDriver) Apply(ctx context.Context, desired *config.Connection) (ActualState, error) {
	phys := desired.Config.Physical
	if phys == nil {
		return ActualState{}, verr.Errorf(verr.InvalidConfig, "connection %s has no physical config", d.id)
	}

	ns := d.id.NIID
	_, err := d.provider.LinkEnsure(ns, dataplane.LinkSpec{
		Kind:       dataplane.LinkMoveExisting,
		Name:       d.id.LinkName(),
		SourceName: phys.InterfaceName,
	})
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrapf(err, verr.DriverTransient, "move link %s into %s", phys.InterfaceName, ns)
	}

	addrs, err := desired.InterfaceAddresses.Parsed()
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.InvalidConfig, "parse interface addresses")
	}
	if len(addrs) > 0 {
		if _, err := d.provider.AddrEnsure(ns, phys.InterfaceName, addrs); err != nil {
			d.transition(StateDegraded)
			return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "assign addresses")
		}
	}

	d.transition(StateConnecting)
	d.transition(StateActive)
	return ActualState{State: StateActive, Healthy: true}, nil
}

func (d *PhysicalDriver) Observe(ctx context.Context) (ActualState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ActualState{State: d.state, Healthy: d.state == StateActive}, nil
}

func (d *PhysicalDriver) Teardown(ctx context.Context) error {
	if _, err := d.provider.LinkDelete(d.id.NIID, d.id.LinkName()); err != nil {
		return verr.Wrap(err, verr.DriverTransient, "move link back out of namespace")
	}
	d.transition(StateTeardown)
	d.transition(StateIdle)
	return nil
}

func (d *PhysicalDriver) transition(to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if CanTransition(d.state, to) {
		d.state = to
	}
}
