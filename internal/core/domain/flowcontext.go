package domain

import (
	"crypto/tls"
	"net"
)

// FlowContext describes the client side of a single proxied flow. Equality
// and hashing are by ConnectionID alone (spec section 3) so a FlowContext can
// be used as a map key even though ClientTLS/ClientAddress are not
// comparable in the general case.
type FlowContext struct {
	ClientAddress net.Addr
	ClientTLS     *tls.ConnectionState
	ConnectionID  ConnectionID
}

// Equal compares two FlowContexts by ConnectionID only.
func (f FlowContext) Equal(other FlowContext) bool {
	return f.ConnectionID == other.ConnectionID
}

// Hash returns a value suitable for use as a map key component, derived
// solely from ConnectionID.
func (f FlowContext) Hash() uint64 {
	return uint64(f.ConnectionID)
}

// FullFlowContext extends FlowContext with the server-side leg of the flow,
// once a proxy-to-server connection exists for it.
type FullFlowContext struct {
	FlowContext
	ServerHostAndPort HostPort
	ChainedProxy      ChainCandidateInfo
	ServerAddress     net.Addr
}

// ChainCandidateInfo is the minimal, read-only view of a chain candidate
// that is safe to embed in a FullFlowContext without importing the
// chainmgr package (which would create an import cycle back into domain).
type ChainCandidateInfo struct {
	Name    string
	Address string
}
