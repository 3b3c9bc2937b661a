package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("config.yaml")
	collector.IncBoundaryFailure("generic")
	collector.SetActiveContexts(3)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.yaml")

	mf := gather(t, reg, "ctxguard_config_hot_reload_total")
	requireCounterValue(t, mf, 2)
}

func TestPrometheusCollectorRecordsPoolEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncRegistration()
	collector.IncRegistration()
	collector.IncEviction()
	collector.IncContextRestored(false)
	collector.SetActiveContexts(4)

	requireCounterValue(t, gather(t, reg, "ctxguard_context_registrations_total"), 2)
	requireCounterValue(t, gather(t, reg, "ctxguard_context_evictions_total"), 1)

	restored := gather(t, reg, "ctxguard_context_restored_total")
	require.Len(t, restored.Metric, 1)
	require.Equal(t, "false", restored.Metric[0].Label[0].GetValue())

	gauge := gather(t, reg, "ctxguard_active_contexts")
	require.Equal(t, 4.0, gauge.Metric[0].Gauge.GetValue())
}

func TestNilPrometheusCollectorIsSafe(t *testing.T) {
	var p *PrometheusCollector
	p.IncHotReload("x")
	p.IncEviction()
	p.SetActiveContexts(1)
}

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
