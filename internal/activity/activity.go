// Package activity implements ActivityTracker fan-out plus two concrete
// trackers: a structured-log tracker built on the ambient slog stack, and a
// Prometheus tracker grounded on the Collector pattern in the teacher-pack's
// mercator-hq-jupiter pkg/telemetry/metrics package
// (NewCollector(cfg, registry) + prometheus.Counter/HistogramVec per event).
package activity

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

// Fanout dispatches every ActivityTracker hook to each tracker in order.
// Trackers must tolerate out-of-order cleanup (spec section 4.7).
type Fanout struct {
	trackers []ports.ActivityTracker
}

func NewFanout(trackers ...ports.ActivityTracker) *Fanout {
	return &Fanout{trackers: trackers}
}

func (f *Fanout) ClientConnected(flow domain.FlowContext) {
	for _, t := range f.trackers {
		t.ClientConnected(flow)
	}
}
func (f *Fanout) ClientSSLHandshakeSucceeded(flow domain.FlowContext) {
	for _, t := range f.trackers {
		t.ClientSSLHandshakeSucceeded(flow)
	}
}
func (f *Fanout) RequestReceivedFromClient(flow domain.FullFlowContext) {
	for _, t := range f.trackers {
		t.RequestReceivedFromClient(flow)
	}
}
func (f *Fanout) RequestSentToServer(flow domain.FullFlowContext) {
	for _, t := range f.trackers {
		t.RequestSentToServer(flow)
	}
}
func (f *Fanout) ResponseReceivedFromServer(flow domain.FullFlowContext) {
	for _, t := range f.trackers {
		t.ResponseReceivedFromServer(flow)
	}
}
func (f *Fanout) ResponseSentToClient(flow domain.FullFlowContext) {
	for _, t := range f.trackers {
		t.ResponseSentToClient(flow)
	}
}
func (f *Fanout) ClientDisconnected(flow domain.FlowContext) {
	for _, t := range f.trackers {
		t.ClientDisconnected(flow)
	}
}
func (f *Fanout) BytesReceivedFromClient(flow domain.FlowContext, n int) {
	for _, t := range f.trackers {
		t.BytesReceivedFromClient(flow, n)
	}
}
func (f *Fanout) BytesSentToServer(flow domain.FullFlowContext, n int) {
	for _, t := range f.trackers {
		t.BytesSentToServer(flow, n)
	}
}
func (f *Fanout) BytesReceivedFromServer(flow domain.FullFlowContext, n int) {
	for _, t := range f.trackers {
		t.BytesReceivedFromServer(flow, n)
	}
}
func (f *Fanout) BytesSentToClient(flow domain.FlowContext, n int) {
	for _, t := range f.trackers {
		t.BytesSentToClient(flow, n)
	}
}

// SlogTracker logs each lifecycle hook at Debug level; byte-counting hooks
// are dropped to avoid flooding logs on every TCP segment.
type SlogTracker struct {
	ports.DiscardTracker
	Logger *slog.Logger
}

func NewSlogTracker(logger *slog.Logger) *SlogTracker {
	return &SlogTracker{Logger: logger}
}

func (s *SlogTracker) ClientConnected(flow domain.FlowContext) {
	s.Logger.Debug("client connected", "connectionId", flow.ConnectionID)
}
func (s *SlogTracker) ClientDisconnected(flow domain.FlowContext) {
	s.Logger.Debug("client disconnected", "connectionId", flow.ConnectionID)
}
func (s *SlogTracker) RequestReceivedFromClient(flow domain.FullFlowContext) {
	s.Logger.Debug("request received", "connectionId", flow.ConnectionID, "target", flow.ServerHostAndPort)
}
func (s *SlogTracker) ResponseSentToClient(flow domain.FullFlowContext) {
	s.Logger.Debug("response sent", "connectionId", flow.ConnectionID, "target", flow.ServerHostAndPort)
}

// PrometheusTracker records connection/request counters and byte totals,
// grounded on the NewCollector(cfg, registry) constructor shape the
// teacher-pack's jupiter telemetry/metrics package uses.
type PrometheusTracker struct {
	ports.DiscardTracker

	connections   prometheus.Counter
	disconnects   prometheus.Counter
	requests      prometheus.Counter
	responses     prometheus.Counter
	bytesToClient prometheus.Counter
	bytesToServer prometheus.Counter
}

func NewPrometheusTracker(registry prometheus.Registerer) *PrometheusTracker {
	t := &PrometheusTracker{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_connections_total",
			Help: "Total client connections accepted.",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_client_disconnects_total",
			Help: "Total client disconnects.",
		}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total requests received from clients.",
		}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_responses_total",
			Help: "Total responses sent to clients.",
		}),
		bytesToClient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_to_client_total",
			Help: "Total bytes written to clients.",
		}),
		bytesToServer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_to_server_total",
			Help: "Total bytes written to upstream servers.",
		}),
	}
	registry.MustRegister(t.connections, t.disconnects, t.requests, t.responses, t.bytesToClient, t.bytesToServer)
	return t
}

func (t *PrometheusTracker) ClientConnected(domain.FlowContext)               { t.connections.Inc() }
func (t *PrometheusTracker) ClientDisconnected(domain.FlowContext)            { t.disconnects.Inc() }
func (t *PrometheusTracker) RequestReceivedFromClient(domain.FullFlowContext) { t.requests.Inc() }
func (t *PrometheusTracker) ResponseSentToClient(domain.FullFlowContext)      { t.responses.Inc() }
func (t *PrometheusTracker) BytesSentToClient(_ domain.FlowContext, n int)    { t.bytesToClient.Add(float64(n)) }
func (t *PrometheusTracker) BytesSentToServer(_ domain.FullFlowContext, n int) {
	t.bytesToServer.Add(float64(n))
}
