// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package health

import (
	"context"
	"time"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/samonitor"
)

// healthCheckNamespace is the reserved namespace name CheckDataplane
// creates and immediately tears down to confirm the provider can still
// reach the kernel.
const healthCheckNamespace = "vpncd-health"

// CheckConfigStore verifies the active config store is still readable.
func CheckConfigStore(store *config.Store) Probe {
	return func(ctx context.Context) Check {
		if _, err := store.LoadActive(); err != nil {
			return Check{Status: StatusDown, Message: "active config store unreadable: " + err.Error()}
		}
		return Check{Status: StatusHealthy, Message: "active config store readable"}
	}
}

// CheckDataplane verifies the dataplane provider can still create and
// remove a namespace.
func CheckDataplane(provider dataplane.Provider) Probe {
	return func(ctx context.Context) Check {
		if _, err := provider.NamespaceEnsure(healthCheckNamespace); err != nil {
			return Check{Status: StatusDown, Message: "dataplane provider unreachable: " + err.Error()}
		}
		if _, err := provider.NamespaceDelete(healthCheckNamespace); err != nil {
			return Check{Status: StatusDegraded, Message: "dataplane provider created but could not remove health namespace: " + err.Error()}
		}
		return Check{Status: StatusHealthy, Message: "dataplane provider reachable"}
	}
}

// CheckControlChannel verifies the IKE daemon's control channel still
// answers, by attempting to delete an SA id reserved for this probe —
// a daemon that is down or unreachable fails the call itself rather
// than reporting "no such SA", which a live daemon would return.
func CheckControlChannel(deleter samonitor.Deleter, timeout time.Duration) Probe {
	return func(ctx context.Context) Check {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := deleter.DeleteSA(probeCtx, "vpncd-health-probe")
		if err != nil && probeCtx.Err() != nil {
			return Check{Status: StatusDown, Message: "ike control channel did not respond in time"}
		}
		return Check{Status: StatusHealthy, Message: "ike control channel responding"}
	}
}
