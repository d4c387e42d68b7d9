package ports

import (
	"context"
	"net"

	"github.com/relaycore/relay/internal/core/domain"
)

// HostResolver is the external collaborator named in spec section 1:
// "HostResolver.resolve(host, port) -> address". The core only ever calls
// Resolve; DNSSEC validation, caching, and negative-caching policy are
// entirely up to the implementation plugged in.
type HostResolver interface {
	Resolve(ctx context.Context, host string, port int) (net.Addr, error)
}

// ChainCandidate is one upstream proxy endpoint to try, per the GLOSSARY
// entry in spec.md. ChainedProxyManager.Lookup returns an ordered sequence
// of these; ProxyToServerConnection walks the sequence on dial failure.
type ChainCandidate interface {
	// Name identifies the candidate for logging and for the testable
	// property in spec section 8 ("exactly one connectionFailed per refused
	// candidate").
	Name() string

	// ChainedProxyAddress resolves this candidate's own dial address; it is
	// not run through HostResolver (spec section 4.5 step 2).
	ChainedProxyAddress(ctx context.Context) (net.Addr, error)

	// RequiresEncryption reports whether the hop to this candidate itself
	// needs a TLS handshake (independent of MITM on the client leg).
	RequiresEncryption() bool

	// NewSSLEngine returns the *tls.Config to dial this candidate with, when
	// RequiresEncryption is true.
	NewSSLEngine() (TLSConfigFactory, error)

	// ForwardsConnect reports whether this candidate expects HTTP-proxy
	// CONNECT semantics (spec section 4.5 step 5) rather than a raw dial.
	ForwardsConnect() bool

	// ConnectionFailed is invoked once when a dial or handshake to this
	// candidate fails, before the queue advances to the next candidate.
	ConnectionFailed(err error)

	// ConnectionSucceeded is invoked once a dial (and handshake, if
	// required) to this candidate completes.
	ConnectionSucceeded()
}

// FallbackToDirect is the sentinel ChainCandidate meaning "try a direct
// connection after every earlier candidate in the queue has been tried",
// per spec section 4.5 step 1.
var FallbackToDirect ChainCandidate = fallbackToDirect{}

type fallbackToDirect struct{}

func (fallbackToDirect) Name() string                                        { return "FALLBACK_TO_DIRECT" }
func (fallbackToDirect) ChainedProxyAddress(context.Context) (net.Addr, error) { return nil, nil }
func (fallbackToDirect) RequiresEncryption() bool                            { return false }
func (fallbackToDirect) NewSSLEngine() (TLSConfigFactory, error)             { return nil, nil }
func (fallbackToDirect) ForwardsConnect() bool                               { return false }
func (fallbackToDirect) ConnectionFailed(error)                              {}
func (fallbackToDirect) ConnectionSucceeded()                                {}

// ChainedProxyManager is the external collaborator:
// "ChainedProxyManager.lookup(request, clientDetails) -> ordered sequence of
// chain candidates" (spec section 1). An empty, non-error return means "no
// chain, go direct".
type ChainedProxyManager interface {
	Lookup(ctx context.Context, method, targetHostAndPort string, client domain.FlowContext) ([]ChainCandidate, error)
}
