// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// vpncd is the VPN concentrator control-plane daemon: it loads tenant
// configuration, reconciles the dataplane and connection drivers
// against it, watches for config changes, and serves health and
// metrics over HTTP.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NetNeutralNetworks/nc-vpnc/internal/alloc"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/audit"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/config"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/dataplane"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/driver"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/health"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/install"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/logging"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/metrics"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/reconciler"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/routingdaemon"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/status"
	"github.com/NetNeutralNetworks/nc-vpnc/internal/supervisor"
)

func main() {
	if !supervisor.ShouldSkipDetection() {
		sup := supervisor.New(install.GetRunDir(), supervisor.DefaultConfig())
		if sup.ShouldEnterSafeMode() {
			os.Stderr.WriteString("vpncd: too many recent crashes, refusing to start (clear state to override)\n")
			os.Exit(1)
		}
		sup.StartStabilityTimer()
	}

	logger := logging.New(logging.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, ignoring")
				continue
			}
			logger.Info("received shutdown signal", "signal", sig.String())
			cancel()
			return
		}
	}()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *logging.Logger) error {
	store, err := config.NewStore(install.ActiveDir(), install.CandidateDir())
	if err != nil {
		return err
	}

	provider := dataplane.NewLinuxProvider()

	prefixes, err := loadServicePrefixes(store)
	if err != nil {
		return err
	}

	driverMgr := driver.NewManager(provider, prefixes, logger)
	recon := reconciler.New(provider, driverMgr, prefixes, logger)
	bgpRenderer := routingdaemon.New(install.GetBGPConfigPath(), install.GetBGPReloadCommand(), logger)

	auditStore, err := audit.Open(filepath.Join(install.GetConfigDir(), "audit.db"))
	if err != nil {
		logger.Warn("audit store unavailable, continuing without persistence", "error", err)
	}
	auditLog := audit.NewLogger(auditStore, logger)

	m := metrics.New()
	m.MustRegister(prometheus.DefaultRegisterer)

	checker := health.NewChecker(map[string]health.Probe{
		"config_store": health.CheckConfigStore(store),
		"dataplane":    health.CheckDataplane(provider),
	})

	httpSrv := startObservabilityServer(checker, logger)
	defer httpSrv.Shutdown(context.Background())

	statusCollector := status.NewCollector(store, driverMgr, prefixes, checker)
	statusSrv := status.NewServer(statusCollector, logger)
	if err := statusSrv.Start(ctx, install.GetSocketPath()); err != nil {
		logger.Warn("status query socket unavailable", "error", err)
	}

	watcher, err := config.NewWatcher(store, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, falling back to periodic reconcile only", "error", err)
	}

	reconcileLoop(ctx, store, recon, bgpRenderer, statusCollector, auditLog, m, watcher, logger)
	return nil
}

// reconcileLoop drives the reconciler on config changes and a periodic
// fallback tick, until ctx is canceled.
func reconcileLoop(ctx context.Context, store *config.Store, recon *reconciler.Reconciler, bgpRenderer *routingdaemon.Renderer, statusCollector *status.Collector, auditLog *audit.Logger, m *metrics.Metrics, watcher *config.Watcher, logger *logging.Logger) {
	const fallbackInterval = 30 * time.Second
	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	reconcileOnce(ctx, store, recon, bgpRenderer, statusCollector, auditLog, m, logger)

	var changes <-chan config.ChangeEvent
	if watcher != nil {
		defer watcher.Close()
		changes = watcher.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reconcileOnce(ctx, store, recon, bgpRenderer, statusCollector, auditLog, m, logger)
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			logger.Info("config change detected", "tenant_id", ev.TenantID, "removed", ev.Removed)
			reconcileOnce(ctx, store, recon, bgpRenderer, statusCollector, auditLog, m, logger)
		}
	}
}

func reconcileOnce(ctx context.Context, store *config.Store, recon *reconciler.Reconciler, bgpRenderer *routingdaemon.Renderer, statusCollector *status.Collector, auditLog *audit.Logger, m *metrics.Metrics, logger *logging.Logger) {
	snap, err := store.LoadActive()
	if err != nil {
		logger.Error("failed to load active configuration", "error", err)
		return
	}

	m.ReconcileRuns.Inc()
	start := time.Now()
	err = recon.Reconcile(ctx, snap)
	m.ReconcileDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		m.ReconcileErrors.Inc()
		logger.Error("reconcile pass failed", "error", err)
		auditLog.LogReconcileFailure(ctx, err.Error())
		return
	}

	reconcileBGP(ctx, snap, bgpRenderer, statusCollector, m, logger)
}

// reconcileBGP renders and reloads the routing daemon's configuration
// for every core network instance, using the DEFAULT tenant's BGP
// globals and aggregate allocator prefixes. A render/reload failure is
// logged but does not fail the reconcile pass: the dataplane is
// already converged and the next pass will retry.
func reconcileBGP(ctx context.Context, snap *config.Snapshot, bgpRenderer *routingdaemon.Renderer, statusCollector *status.Collector, m *metrics.Metrics, logger *logging.Logger) {
	instances := buildBGPInstances(snap)
	if len(instances) == 0 {
		return
	}

	if err := bgpRenderer.Render(instances); err != nil {
		logger.Error("bgp config render failed", "error", err)
		return
	}
	if err := bgpRenderer.Reload(ctx); err != nil {
		logger.Error("bgp reload failed", "error", err)
		return
	}
	statusCollector.SetBGPInstances(instances)

	for _, inst := range instances {
		for _, nb := range inst.Neighbors {
			m.BGPNeighborState.WithLabelValues(inst.NIID, nb.Address).Set(1)
		}
	}
}

// buildBGPInstances derives one routingdaemon.Instance per core network
// instance in the DEFAULT tenant, sharing the service's BGP globals and
// peer list the same way across every core NI's VRF.
func buildBGPInstances(snap *config.Snapshot) []routingdaemon.Instance {
	def, ok := snap.Tenants["DEFAULT"]
	if !ok || def.Service == nil {
		return nil
	}
	bgp := def.Service.BGP
	if bgp.ASN == 0 {
		return nil
	}

	var nat64, nptv6 []*net.IPNet
	if n := parseCIDR(def.Service.PrefixDownlinkNAT64); n != nil {
		nat64 = append(nat64, n)
	}
	if n := parseCIDR(def.Service.PrefixDownlinkNPTv6); n != nil {
		nptv6 = append(nptv6, n)
	}

	var instances []routingdaemon.Instance
	for niID, ni := range def.NetworkInstances {
		if ni.Type != config.NITypeCore {
			continue
		}
		instances = append(instances, routingdaemon.Instance{
			NIID:          niID,
			ASN:           bgp.ASN,
			RouterID:      bgp.RouterID,
			BFD:           bgp.BFD,
			Neighbors:     bgp.Neighbors,
			NAT64Prefixes: nat64,
			NPTv6Prefixes: nptv6,
		})
	}
	return instances
}

func parseCIDR(s string) *net.IPNet {
	if s == "" {
		return nil
	}
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return nil
	}
	return n
}

// loadServicePrefixes reads the DEFAULT tenant's allocator prefixes.
func loadServicePrefixes(store *config.Store) (alloc.ServicePrefixes, error) {
	snap, err := store.LoadActive()
	if err != nil {
		return alloc.ServicePrefixes{}, err
	}
	def, ok := snap.Tenants["DEFAULT"]
	if !ok || def.Service == nil {
		return alloc.ServicePrefixes{}, nil
	}

	return alloc.ServicePrefixes{
		InterfaceV4: parseCIDR(def.Service.PrefixDownlinkInterfaceV4),
		InterfaceV6: parseCIDR(def.Service.PrefixDownlinkInterfaceV6),
		NAT64:       parseCIDR(def.Service.PrefixDownlinkNAT64),
		NPTv6:       parseCIDR(def.Service.PrefixDownlinkNPTv6),
	}, nil
}

// startObservabilityServer serves /healthz and /metrics for the
// daemon's external collaborators (monitoring, orchestration health
// probes) the same way the teacher's api.Server registers /metrics
// through promhttp.Handler.
func startObservabilityServer(checker *health.Checker, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		report := checker.Run(r.Context())
		status := http.StatusOK
		if report.Overall == health.StatusDown {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
	})

	srv := &http.Server{Addr: "127.0.0.1:9116", Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server stopped", "error", err)
		}
	}()
	return srv
}
