package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/LatticeX-Foundation/rosetta-io-go/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFramesSentIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(reg)

	m.FramesSent.WithLabelValues("peerA").Inc()
	m.FramesSent.WithLabelValues("peerA").Inc()

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.MetricFamily
	for _, mf := range metricFamilies {
		if mf.GetName() == "rosetta_io_frames_sent_total" {
			found = mf
		}
	}
	require.NotNil(t, found)
	require.Equal(t, float64(2), found.Metric[0].Counter.GetValue())
}

func TestDoubleRegisterIsTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	m1 := metrics.New()
	m2 := metrics.New()
	m1.Register(reg)
	require.NotPanics(t, func() { m2.Register(reg) })
}
