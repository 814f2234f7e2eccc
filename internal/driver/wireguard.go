package driver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

// WireGuardDriver configures and observes a single-peer WireGuard link
// through wgctrl.Client rather than raw netlink genl calls, per §4.4.
type WireGuardDriver struct {
	id       Identity
	ids      alloc.Ids
	provider dataplane.Provider
	prefixes alloc.ServicePrefixes
	logger   *logging.Logger

	mu     sync.Mutex
	state  State
	client WireGuardClient
}

// WireGuardClient narrows wgctrl.Client to the three calls this driver
// needs, so tests can substitute a fake without a kernel WireGuard
// module.
type WireGuardClient interface {
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

func (d *WireGuardDriver) linkName() string {
	return fmt.Sprintf("wg-%s-%d", d.id.NIID, d.id.ConnID)
}

func (d *WireGuardDriver) ensureClient() (WireGuardClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	c, err := wgctrl.New()
	if err != nil {
		return nil, verr.Wrap(err, verr.DriverFatal, "open wgctrl client")
	}
	d.client = c
	return d.client, nil
}

func (d *WireGuardDriver) Apply(ctx context.Context, desired *config.Connection) (ActualState, error) {
	wg := desired.Config.WireGuard
	if wg == nil {
		return ActualState{}, verr.Errorf(verr.InvalidConfig, "connection %s has no wireguard config", d.id)
	}

	ns := d.id.NIID
	if _, err := d.provider.NamespaceEnsure(ns); err != nil {
		return ActualState{}, verr.Wrap(err, verr.KernelBusy, "ensure namespace")
	}
	if _, err := d.provider.LinkEnsure(ns, dataplane.LinkSpec{Kind: dataplane.LinkWireGuard, Name: d.linkName()}); err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "ensure wireguard link")
	}

	addrs, err := desired.InterfaceAddresses.Parsed()
	if err != nil {
		return ActualState{}, verr.Wrap(err, verr.InvalidConfig, "parse interface addresses")
	}
	if len(addrs) > 0 {
		if _, err := d.provider.AddrEnsure(ns, d.linkName(), addrs); err != nil {
			d.transition(StateDegraded)
			return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "assign addresses")
		}
	}

	privKey, err := wgtypes.ParseKey(wg.PrivateKey)
	if err != nil {
		return ActualState{}, verr.Wrap(err, verr.InvalidConfig, "parse wireguard private key")
	}
	pubKey, err := wgtypes.ParseKey(wg.PublicKey)
	if err != nil {
		return ActualState{}, verr.Wrap(err, verr.InvalidConfig, "parse wireguard public key")
	}

	endpoint, err := firstReachable(wg.RemoteAddrs, wg.RemotePort)
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, err
	}

	_, allAllowedIPv4, _ := net.ParseCIDR("0.0.0.0/0")
	_, allAllowedIPv6, _ := net.ParseCIDR("::/0")

	cfg := wgtypes.Config{
		PrivateKey: &privKey,
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         pubKey,
			Endpoint:          endpoint,
			AllowedIPs:        []net.IPNet{*allAllowedIPv4, *allAllowedIPv6},
			ReplaceAllowedIPs: true,
		}},
	}
	if wg.LocalPort != 0 {
		cfg.ListenPort = &wg.LocalPort
	}

	client, err := d.ensureClient()
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, err
	}
	if err := client.ConfigureDevice(d.linkName(), cfg); err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "configure wireguard device")
	}

	d.transition(StateConnecting)
	return d.Observe(ctx)
}

func firstReachable(addrs []string, port int) (*net.UDPAddr, error) {
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	return nil, verr.Errorf(verr.DriverTransient, "no reachable remote address among %v", addrs)
}

func (d *WireGuardDriver) Observe(ctx context.Context) (ActualState, error) {
	client, err := d.ensureClient()
	if err != nil {
		return ActualState{State: StateDegraded}, err
	}
	dev, err := client.Device(d.linkName())
	if err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "query wireguard device")
	}
	for _, peer := range dev.Peers {
		if time.Since(peer.LastHandshakeTime) < 3*time.Minute && !peer.LastHandshakeTime.IsZero() {
			d.transition(StateActive)
			return ActualState{State: StateActive, Healthy: true}, nil
		}
	}
	d.mu.Lock()
	current := d.state
	d.mu.Unlock()
	return ActualState{State: current}, nil
}

func (d *WireGuardDriver) Teardown(ctx context.Context) error {
	_, err := d.provider.LinkDelete(d.id.NIID, d.linkName())
	d.mu.Lock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
	d.mu.Unlock()
	d.transition(StateTeardown)
	d.transition(StateIdle)
	if err != nil {
		return verr.Wrap(err, verr.DriverTransient, "remove wireguard link")
	}
	return nil
}

func (d *WireGuardDriver) transition(to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if CanTransition(d.state, to) {
		d.state = to
	}
}
