// Package conn implements the dual-channel connection engine from spec
// section 4: ClientToProxyConnection and ProxyToServerConnection, the two
// role-specific behaviour tables sharing the ProxyConnection state-machine
// driver named in design note 9 ("express as a single state-machine driver
// plus two role-specific behavior tables"). It is grounded on the teacher's
// internal/app/handlers request-forwarding handlers, generalised from a
// single-hop reverse-proxy handler into the CONNECT/MITM/chained-proxy
// engine spec sections 4.4-4.5 describe.
package conn

import (
	"time"

	"github.com/relaycore/relay/internal/core/ports"
)

// Options carries the subset of proxyserver.Options each connection needs,
// translated once per Proxy instance (proxyserver.Proxy.toConnOptions).
type Options struct {
	ClientSideKind int // mirrors proxyserver.ClientSideSecurityKind
	SslEngineSource ports.SslEngineSource
	MitmManager     ports.MitmManager

	AuthenticateSslClients bool
	ProxyAuthenticator     ports.ProxyAuthenticator

	ChainProxyManager ports.ChainedProxyManager

	FiltersSource ports.HttpFiltersSource

	// Resolver defaults to a plain net.Resolver-backed HostResolver when nil.
	Resolver ports.HostResolver

	Transparent bool

	IdleConnectionTimeout time.Duration
	ConnectTimeout        time.Duration

	MaxInitialLineLength int
	MaxHeaderSize        int
	MaxChunkSize         int

	AllowRequestsToOriginServer bool

	ProxyAlias string

	SendProxyProtocol bool
}

const (
	clientSidePlain = 0
	clientSideTLS   = 1
	clientSideMitm  = 2
)
