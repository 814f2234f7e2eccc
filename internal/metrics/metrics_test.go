package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMustRegister_RegistersEveryCollectorOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NotPanics(t, func() { m.MustRegister(reg) })

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestConnectionState_SetsLabeledGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.MustRegister(reg)

	m.ConnectionState.WithLabelValues("T0001", "C0001-down0", "0", "ipsec", "established").Set(1)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.Metric
	for _, f := range families {
		if f.GetName() != "vpncd_connection_state" {
			continue
		}
		found = f.Metric[0]
	}
	require.NotNil(t, found, "vpncd_connection_state must be present after Set")
	require.Equal(t, float64(1), found.GetGauge().GetValue())
}
