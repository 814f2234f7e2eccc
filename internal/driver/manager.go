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

// Manager owns the lifecycle of every connection driver currently
// bound to config. The reconciler calls Ensure/Remove as it diffs
// desired against observed; Manager never decides desired state
// itself.
type Manager struct {
	mu       sync.Mutex
	drivers  map[string]Driver
	provider dataplane.Provider
	prefixes alloc.ServicePrefixes
	logger   *logging.Logger
}

// NewManager creates an empty driver manager bound to a dataplane
// provider and the service's allocator prefixes.
func NewManager(provider dataplane.Provider, prefixes alloc.ServicePrefixes, logger *logging.Logger) *Manager {
	return &Manager{
		drivers:  map[string]Driver{},
		provider: provider,
		prefixes: prefixes,
		logger:   logger,
	}
}

func newDriver(id Identity, conn *config.Connection, provider dataplane.Provider, prefixes alloc.ServicePrefixes, logger *logging.Logger) (Driver, error) {
	ids := alloc.Ids{TenantID: id.TenantID, NIIndex: id.NIIndex, ConnID: id.ConnID}

	switch conn.Config.Type() {
	case config.ConnPhysical:
		return &PhysicalDriver{id: id, provider: provider, logger: logger}, nil
	case config.ConnIPsec:
		return &IPsecDriver{id: id, ids: ids, provider: provider, prefixes: prefixes, logger: logger}, nil
	case config.ConnWireGuard:
		return &WireGuardDriver{id: id, ids: ids, provider: provider, prefixes: prefixes, logger: logger}, nil
	case config.ConnSSH:
		return &SSHDriver{id: id, ids: ids, provider: provider, logger: logger}, nil
	default:
		return nil, verr.Errorf(verr.InvalidConfig, "connection %s has no recognized transport", id)
	}
}

// Ensure applies desired config for the connection identified by id,
// creating its driver on first use.
func (m *Manager) Ensure(ctx context.Context, id Identity, desired *config.Connection) (ActualState, error) {
	m.mu.Lock()
	key := id.String()
	d, ok := m.drivers[key]
	if !ok {
		var err error
		d, err = newDriver(id, desired, m.provider, m.prefixes, m.logger)
		if err != nil {
			m.mu.Unlock()
			return ActualState{}, err
		}
		m.drivers[key] = d
	}
	m.mu.Unlock()

	m.logger.Info("applying connection", "connection", id.String())
	state, err := d.Apply(ctx, desired)
	if err != nil {
		m.logger.Warn("connection apply failed", "connection", id.String(), "error", err)
	}
	return state, err
}

// Observe polls every currently managed driver's health.
func (m *Manager) Observe(ctx context.Context) map[string]ActualState {
	m.mu.Lock()
	snapshot := make(map[string]Driver, len(m.drivers))
	for k, d := range m.drivers {
		snapshot[k] = d
	}
	m.mu.Unlock()

	out := make(map[string]ActualState, len(snapshot))
	for key, d := range snapshot {
		state, err := d.Observe(ctx)
		if err != nil {
			m.logger.Warn("connection observe failed", "connection", key, "error", err)
			state.State = StateDegraded
		}
		out[key] = state
	}
	return out
}

// Remove tears down and forgets the driver for id. It is a no-op if no
// driver exists for id.
func (m *Manager) Remove(ctx context.Context, id Identity) error {
	m.mu.Lock()
	key := id.String()
	d, ok := m.drivers[key]
	if ok {
		delete(m.drivers, key)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	m.logger.Info("tearing down connection", "connection", id.String())
	return d.Teardown(ctx)
}

// StopAll tears down every managed driver, in no particular order —
// callers needing ordered shutdown (reverse creation order) should call
// Remove individually instead.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	drivers := m.drivers
	m.drivers = map[string]Driver{}
	m.mu.Unlock()

	for key, d := range drivers {
		m.logger.Info("stopping connection", "connection", key)
		if err := d.Teardown(ctx); err != nil {
			m.logger.Warn("teardown failed", "connection", key, "error", err)
		}
	}
}
