package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/dataflow/collector"
)

func TestFromCollector(t *testing.T) {
	s := FromCollector("weather", collector.Status{State: collector.StateRunning, Updates: 42})
	assert.True(t, s.IsHealthy())
	assert.Equal(t, int64(42), s.Updates)

	s = FromCollector("feed", collector.Status{State: collector.StateReconnecting})
	assert.True(t, s.IsDegraded())

	s = FromCollector("down", collector.Status{State: collector.StateError, Reason: "connect refused"})
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "connect refused", s.Message)

	s = FromCollector("idle", collector.Status{State: collector.StateStopped})
	assert.True(t, s.IsHealthy())
}

func TestAggregateRules(t *testing.T) {
	agg := Aggregate("engine", nil)
	assert.True(t, agg.IsHealthy(), "empty aggregate is healthy")

	agg = Aggregate("engine", []Status{NewHealthy("a", ""), NewHealthy("b", "")})
	assert.True(t, agg.IsHealthy())
	assert.Len(t, agg.SubStatuses, 2)

	agg = Aggregate("engine", []Status{NewHealthy("a", ""), NewDegraded("b", "")})
	assert.True(t, agg.IsDegraded())

	agg = Aggregate("engine", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")})
	assert.True(t, agg.IsUnhealthy(), "unhealthy outranks degraded")
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 0, m.Count())

	m.Update("weather", NewHealthy("weather", "running"))
	m.Update("feed", NewUnhealthy("feed", "down"))

	got, ok := m.Get("weather")
	assert.True(t, ok)
	assert.True(t, got.IsHealthy())

	_, ok = m.Get("absent")
	assert.False(t, ok)

	all := m.GetAll()
	assert.Len(t, all, 2)

	agg := m.AggregateHealth("engine")
	assert.True(t, agg.IsUnhealthy())

	m.Remove("feed")
	agg = m.AggregateHealth("engine")
	assert.True(t, agg.IsHealthy())
	assert.Equal(t, 1, m.Count())
}

func TestUpdateFillsComponentAndTimestamp(t *testing.T) {
	m := NewMonitor()
	m.Update("x", Status{Status: StateHealthy, Healthy: true})

	got, _ := m.Get("x")
	assert.Equal(t, "x", got.Component)
	assert.False(t, got.Timestamp.IsZero())
}
