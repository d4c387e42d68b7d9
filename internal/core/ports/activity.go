package ports

import (
	"github.com/relaycore/relay/internal/core/domain"
)

// ActivityTracker observation hooks (spec section 4.7). Every hook is
// invoked synchronously on the connection's worker loop; trackers must
// tolerate out-of-order cleanup (clientDisconnected may arrive before
// responseSentToClient on an abort) and must not block.
type ActivityTracker interface {
	ClientConnected(flow domain.FlowContext)
	ClientSSLHandshakeSucceeded(flow domain.FlowContext)
	RequestReceivedFromClient(flow domain.FullFlowContext)
	RequestSentToServer(flow domain.FullFlowContext)
	ResponseReceivedFromServer(flow domain.FullFlowContext)
	ResponseSentToClient(flow domain.FullFlowContext)
	ClientDisconnected(flow domain.FlowContext)

	BytesReceivedFromClient(flow domain.FlowContext, n int)
	BytesSentToServer(flow domain.FullFlowContext, n int)
	BytesReceivedFromServer(flow domain.FullFlowContext, n int)
	BytesSentToClient(flow domain.FlowContext, n int)
}

// DiscardTracker implements ActivityTracker with every hook a no-op. Useful
// as a base to embed from, and as the zero-trackers default.
type DiscardTracker struct{}

func (DiscardTracker) ClientConnected(domain.FlowContext)                {}
func (DiscardTracker) ClientSSLHandshakeSucceeded(domain.FlowContext)    {}
func (DiscardTracker) RequestReceivedFromClient(domain.FullFlowContext)  {}
func (DiscardTracker) RequestSentToServer(domain.FullFlowContext)        {}
func (DiscardTracker) ResponseReceivedFromServer(domain.FullFlowContext) {}
func (DiscardTracker) ResponseSentToClient(domain.FullFlowContext)       {}
func (DiscardTracker) ClientDisconnected(domain.FlowContext)             {}
func (DiscardTracker) BytesReceivedFromClient(domain.FlowContext, int)   {}
func (DiscardTracker) BytesSentToServer(domain.FullFlowContext, int)     {}
func (DiscardTracker) BytesReceivedFromServer(domain.FullFlowContext, int) {}
func (DiscardTracker) BytesSentToClient(domain.FlowContext, int)         {}
