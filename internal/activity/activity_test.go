package activity

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

type countingTracker struct {
	ports.DiscardTracker
	connects int
}

func (c *countingTracker) ClientConnected(domain.FlowContext) { c.connects++ }

func TestFanoutDispatchesToEveryTracker(t *testing.T) {
	a := &countingTracker{}
	b := &countingTracker{}
	fan := NewFanout(a, b)

	fan.ClientConnected(domain.FlowContext{})

	if a.connects != 1 || b.connects != 1 {
		t.Errorf("expected both trackers to observe ClientConnected once, got a=%d b=%d", a.connects, b.connects)
	}
}

func TestPrometheusTrackerIncrementsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	tr := NewPrometheusTracker(registry)

	tr.ClientConnected(domain.FlowContext{})
	tr.RequestReceivedFromClient(domain.FullFlowContext{})
	tr.BytesSentToClient(domain.FlowContext{}, 128)

	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("unexpected error gathering metrics: %v", err)
	}

	var found int
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "relay_client_connections_total", "relay_requests_total", "relay_bytes_to_client_total":
			found++
			if got := metricValue(mf.GetMetric()[0]); got <= 0 {
				t.Errorf("expected %s to be incremented, got %v", mf.GetName(), got)
			}
		}
	}
	if found != 3 {
		t.Errorf("expected all 3 exercised counters to be registered, found %d", found)
	}
}

func metricValue(m *dto.Metric) float64 {
	if c := m.GetCounter(); c != nil {
		return c.GetValue()
	}
	return 0
}
