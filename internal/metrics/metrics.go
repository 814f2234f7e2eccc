// Package metrics exposes the daemon's Prometheus metrics: connection
// and SA state gauges, reconcile duration, and BGP neighbor state. It
// mirrors the teacher's own prometheus.Collector wiring — one struct
// of vectors built in a constructor, registered once with a registry —
// generalized from eBPF packet counters to VPNC's control-plane
// surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every gauge/counter/histogram the daemon exports.
type Metrics struct {
	ReconcileDuration prometheus.Histogram
	ReconcileErrors   prometheus.Counter
	ReconcileRuns     prometheus.Counter

	ConnectionState *prometheus.GaugeVec
	ConnectionFlaps *prometheus.CounterVec

	SAInstalled  *prometheus.GaugeVec
	SAReapTotal  *prometheus.CounterVec
	SAReapFailed *prometheus.CounterVec

	BGPNeighborState *prometheus.GaugeVec

	DNSRulesPushed *prometheus.CounterVec
}

// New builds an unregistered Metrics. Callers register it with a
// *prometheus.Registry (production code uses the default registry via
// promhttp; tests use a private one to avoid cross-test collisions).
func New() *Metrics {
	return &Metrics{
		ReconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vpncd_reconcile_duration_seconds",
			Help:    "Time taken to reconcile a published configuration snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		ReconcileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpncd_reconcile_errors_total",
			Help: "Total number of reconcile passes that logged at least one error",
		}),
		ReconcileRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vpncd_reconcile_runs_total",
			Help: "Total number of reconcile passes started",
		}),

		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vpncd_connection_state",
			Help: "Connection driver state (1 for the active state, 0 otherwise)",
		}, []string{"tenant", "network_instance", "connection", "type", "state"}),

		ConnectionFlaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncd_connection_flaps_total",
			Help: "Total number of times a connection left its established state",
		}, []string{"tenant", "network_instance", "connection", "type"}),

		SAInstalled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vpncd_sa_installed",
			Help: "Number of IKE/CHILD SAs currently installed for a (local_id, remote_id, if_id) key",
		}, []string{"local_id", "remote_id", "if_id"}),

		SAReapTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncd_sa_reap_total",
			Help: "Total number of duplicate SAs successfully reaped",
		}, []string{"local_id", "remote_id"}),

		SAReapFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncd_sa_reap_failed_total",
			Help: "Total number of duplicate SAs that could not be reaped after exhausting retries",
		}, []string{"local_id", "remote_id"}),

		BGPNeighborState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vpncd_bgp_neighbor_state",
			Help: "BGP neighbor session state (1 for Established, 0 otherwise)",
		}, []string{"network_instance", "neighbor"}),

		DNSRulesPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpncd_dns_rules_pushed_total",
			Help: "Total number of DNS rewrite rule syncs pushed to the netfilter DNS hook",
		}, []string{"network_instance"}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate registration — the same fail-fast startup behavior the
// teacher's own RegisterMetrics uses.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ReconcileDuration,
		m.ReconcileErrors,
		m.ReconcileRuns,
		m.ConnectionState,
		m.ConnectionFlaps,
		m.SAInstalled,
		m.SAReapTotal,
		m.SAReapFailed,
		m.BGPNeighborState,
		m.DNSRulesPushed,
	)
}
