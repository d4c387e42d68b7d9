// Package proxyserver implements the Proxy instance described in spec
// section 3: immutable configuration plus mutable boundAddress,
// idleConnectionTimeout, connectTimeout, traffic-shaper handle,
// activity-tracker collection, channel registry, and stopped flag. It is
// grounded on the teacher's internal/app wiring, generalised from a single
// fixed HTTP reverse-proxy handler into the accept loop over
// servergroup.ServerGroup that spec section 4.1 describes.
package proxyserver

import (
	"os"
	"time"

	"github.com/relaycore/relay/internal/core/ports"
)

// ClientSideSecurityKind is the tagged variant replacing the teacher's
// mutable "set sslEngineSource, then separately set mitmManager" builder
// surface, per design note 9: "replace the mutable builder with an
// immutable configuration constructed by validating, which enforces
// exclusivity by selecting a tagged variant".
type ClientSideSecurityKind int

const (
	ClientSidePlain ClientSideSecurityKind = iota
	ClientSideTLS
	ClientSideMitm
)

// ClientSideSecurity is the validated, mutually-exclusive choice of how the
// client-facing leg is secured (spec section 6: "mitmManager... exclusive
// with sslEngineSource").
type ClientSideSecurity struct {
	Kind        ClientSideSecurityKind
	EngineSource ports.SslEngineSource // set iff Kind == ClientSideTLS
	Mitm         ports.MitmManager     // set iff Kind == ClientSideMitm
}

func PlainClientSide() ClientSideSecurity { return ClientSideSecurity{Kind: ClientSidePlain} }

func TLSClientSide(source ports.SslEngineSource) ClientSideSecurity {
	return ClientSideSecurity{Kind: ClientSideTLS, EngineSource: source}
}

func MitmClientSide(manager ports.MitmManager) ClientSideSecurity {
	return ClientSideSecurity{Kind: ClientSideMitm, Mitm: manager}
}

// Options is the bootstrap configuration table from spec section 6.
// Defaults are applied by Normalize, mirroring the defaults named in
// parentheses in that table.
type Options struct {
	Name    string
	Address string
	Port    int

	AllowLocalOnly bool

	ClientSide ClientSideSecurity

	AuthenticateSslClients bool
	ProxyAuthenticator     ports.ProxyAuthenticator

	ChainProxyManager ports.ChainedProxyManager

	FiltersSource ports.HttpFiltersSource

	UseDNSSec bool
	Resolver  ports.HostResolver

	Transparent bool

	IdleConnectionTimeout time.Duration
	ConnectTimeout        time.Duration

	ReadBytesPerSec  int
	WriteBytesPerSec int

	NetworkInterface string

	MaxInitialLineLength int
	MaxHeaderSize        int
	MaxChunkSize         int

	AllowRequestsToOriginServer bool

	ProxyAlias string

	AcceptProxyProtocol bool
	SendProxyProtocol   bool

	AcceptorThreads int
	ClientThreads   int
	ServerThreads   int
}

// DefaultOptions returns the options table's defaults, including the two
// booleans (AllowLocalOnly, AuthenticateSslClients) that default to true -
// Options is a plain struct, so a zero-value Options cannot distinguish
// "unset" from "explicitly false" for those two fields. Callers should start
// from DefaultOptions and override fields rather than constructing an
// Options literal from scratch.
func DefaultOptions() Options {
	return Options{
		AllowLocalOnly:         true,
		AuthenticateSslClients: true,
	}.Normalize()
}

// Normalize fills every unset Options field with the default from spec
// section 6's options table and returns the result; it never mutates opts.
func (opts Options) Normalize() Options {
	out := opts
	if out.Name == "" {
		out.Name = "relay"
	}
	if out.Port == 0 {
		out.Port = 8080
	}
	if out.IdleConnectionTimeout == 0 {
		out.IdleConnectionTimeout = 70 * time.Second
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = 40 * time.Second
	}
	if out.NetworkInterface == "" {
		out.NetworkInterface = "0.0.0.0"
	}
	if out.MaxInitialLineLength == 0 {
		out.MaxInitialLineLength = 8192
	}
	if out.MaxHeaderSize == 0 {
		out.MaxHeaderSize = 16384
	}
	if out.MaxChunkSize == 0 {
		out.MaxChunkSize = 16384
	}
	if out.ProxyAlias == "" {
		if hn, err := os.Hostname(); err == nil && hn != "" {
			out.ProxyAlias = hn
		} else {
			out.ProxyAlias = "relay"
		}
	}
	if out.AcceptorThreads == 0 {
		out.AcceptorThreads = 2
	}
	if out.ClientThreads == 0 {
		out.ClientThreads = 8
	}
	if out.ServerThreads == 0 {
		out.ServerThreads = 8
	}
	if out.FiltersSource == nil {
		out.FiltersSource = ports.NoOpFiltersSource{}
	}
	return out
}
