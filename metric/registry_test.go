package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_events_total",
		Help: "test",
	})

	require.NoError(t, r.Register("collector-a", "events", counter))
	assert.True(t, r.Unregister("collector-a", "events"))
	assert.False(t, r.Unregister("collector-a", "events"))
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dup_total",
		Help: "test",
	})

	require.NoError(t, r.Register("c", "dup", counter))
	assert.Error(t, r.Register("c", "dup", counter))
}

func TestCoreMetricsRegistered(t *testing.T) {
	r := NewRegistry()

	require.NotNil(t, r.Core)
	r.Core.UpdatesReceived.WithLabelValues("http.weather").Inc()
	r.Core.TriggerFires.WithLabelValues("notify").Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["dataflow_collector_updates_received_total"])
	assert.True(t, names["dataflow_trigger_fires_total"])
}
