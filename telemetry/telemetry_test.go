package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func resetRegistration() {
	registryLock.Lock()
	ingestedCounter = nil
	decodeCounter = nil
	writeFailCounter = nil
	droppedCounter = nil
	subscribersGauge = nil
	registryLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncReadingIngested()
	collector.SetLiveSubscribers(3)
}

func TestPrometheusCollectorRegistersAndReuses(t *testing.T) {
	resetRegistration()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncReadingIngested()
	collector.IncReadingIngested()
	collector.IncDroppedDelivery()
	collector.SetLiveSubscribers(2)

	requireMetricValue(t, reg, "meteohub_readings_ingested_total", 2)
	requireMetricValue(t, reg, "meteohub_live_dropped_deliveries_total", 1)
	requireMetricValue(t, reg, "meteohub_live_subscribers", 2)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.ingested, again.ingested)

	again.IncReadingIngested()
	requireMetricValue(t, reg, "meteohub_readings_ingested_total", 3)
}

func requireMetricValue(t *testing.T, reg *prometheus.Registry, name string, value float64) {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	var family *dto.MetricFamily
	for _, mf := range metrics {
		if mf.GetName() == name {
			family = mf
			break
		}
	}
	require.NotNil(t, family, "metric %s not gathered", name)
	require.Len(t, family.Metric, 1)
	metric := family.Metric[0]
	if metric.Counter != nil {
		require.Equal(t, value, metric.Counter.GetValue())
		return
	}
	require.NotNil(t, metric.Gauge)
	require.Equal(t, value, metric.Gauge.GetValue())
}
