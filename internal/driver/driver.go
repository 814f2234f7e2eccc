// Package driver implements the per-connection transport contract
// (§4.4): apply/observe/teardown plus the IDLE→CONFIGURED→CONNECTING→
// ACTIVE→{DEGRADED|TEARDOWN} state machine, and the four transport
// drivers (physical, ipsec, wireguard, ssh) that each connection
// variant binds to.
package driver

import (
	"context"
	"fmt"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
)

// LinkNameFor returns the dataplane link name the driver for connType
// binds to. Each transport names its link differently (ipsec prefixes
// xfrm, wireguard derives wg-<ni id>-<conn> such as wg-C0001-01-0, ssh
// prefixes tun); callers outside this package that need to address a
// connection's link directly — the reconciler, for addresses and
// routes — must go through this rather than Identity.LinkName alone.
func LinkNameFor(id Identity, connType config.ConnectionType) string {
	switch connType {
	case config.ConnIPsec:
		return "xfrm" + id.LinkName()
	case config.ConnWireGuard:
		return fmt.Sprintf("wg-%s-%d", id.NIID, id.ConnID)
	case config.ConnSSH:
		return "tun" + id.LinkName()
	default:
		return id.LinkName()
	}
}

// State is a connection's lifecycle state.
type State string

const (
	StateIdle       State = "IDLE"
	StateConfigured State = "CONFIGURED"
	StateConnecting State = "CONNECTING"
	StateActive     State = "ACTIVE"
	StateDegraded   State = "DEGRADED"
	StateTeardown   State = "TEARDOWN"
)

// validTransitions enumerates the state machine's allowed edges.
// teardown is reachable from every state and is checked separately.
var validTransitions = map[State][]State{
	StateIdle:       {StateConfigured, StateConnecting},
	StateConfigured: {StateConnecting},
	StateConnecting: {StateActive, StateDegraded},
	StateActive:     {StateDegraded, StateConnecting},
	StateDegraded:   {StateConnecting, StateActive},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// state machine edge. Any state may transition to TEARDOWN, and
// TEARDOWN always settles to IDLE once kernel cleanup completes.
func CanTransition(from, to State) bool {
	if from == "" {
		// The zero value of a freshly constructed driver is IDLE; it is
		// never explicitly set since drivers are built with struct
		// literals rather than a constructor.
		from = StateIdle
	}
	if to == StateTeardown {
		return true
	}
	if from == StateTeardown && to == StateIdle {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActualState is what a driver observed or produced after apply.
type ActualState struct {
	State   State
	Detail  string
	Healthy bool
}

// Driver is the contract every connection transport implements.
type Driver interface {
	// Apply installs the desired configuration and returns the
	// resulting state; Manager.Ensure calls it for every connection on
	// every reconcile pass, whether or not the desired config changed.
	Apply(ctx context.Context, desired *config.Connection) (ActualState, error)
	// Observe reports the driver's current view without changing
	// anything, used for periodic health polling between applies.
	Observe(ctx context.Context) (ActualState, error)
	// Teardown removes every kernel object the driver created. It must
	// be safe to call from any state, including before Apply ever ran.
	Teardown(ctx context.Context) error
}

// Identity names the (tenant, ni, connection) triple a driver instance
// is bound to — it never changes for the driver's lifetime; a config
// change that alters identity is a new connection, not an update.
type Identity struct {
	TenantID string
	NIID     string
	NIIndex  int
	ConnID   int
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%d", id.TenantID, id.NIID, id.ConnID)
}

// LinkName is the canonical dataplane link name for a connection,
// independent of transport — reconciler bookkeeping keys on this.
func (id Identity) LinkName() string {
	return fmt.Sprintf("c%d", id.ConnID)
}
