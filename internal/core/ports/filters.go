package ports

import (
	"context"
	"net"
	"net/http"
)

// BodyChunk is one piece of a chunked HTTP body as it flows through the
// filter chain. Last marks the terminal (possibly empty) chunk, equivalent
// to the "last chunk" transition in the ProxyConnection state machine.
type BodyChunk struct {
	Data []byte
	Last bool
}

// HttpFiltersSource is the external collaborator:
// "HttpFiltersSource.filterRequest(request, ctx?) -> HttpFilters"
// (spec section 1). ClientToProxyConnection calls it once per original
// client request and caches the returned HttpFilters for that request's
// lifetime (spec section 4.4 step 4, section 6.1 "Filter chain").
type HttpFiltersSource interface {
	FilterRequest(ctx context.Context, original *http.Request) HttpFilters
}

// HttpFilters is bound to a single client request and has no identity
// beyond that request's lifetime (spec section 3). Every hook in spec
// section 4.6's table is represented here; hooks documented as
// "observational" return no value other than an error used only for
// logging - they must never block (spec section 4.6, last line).
//
// Implementations should embed NoOpFilters to avoid having to implement
// every hook.
type HttpFilters interface {
	// ClientToProxyRequest may return a non-nil *http.Response that
	// short-circuits the request (FilterShortCircuit in the error
	// taxonomy).
	ClientToProxyRequest(head *http.Request) (*http.Response, error)
	ClientToProxyRequestBody(chunk BodyChunk) (*http.Response, error)

	// ProxyToServerRequest may short-circuit just like ClientToProxyRequest,
	// but runs immediately before the write to the upstream connection.
	ProxyToServerRequest(req *http.Request) (*http.Response, error)
	ProxyToServerRequestBody(chunk BodyChunk) (*http.Response, error)
	ProxyToServerRequestSending()
	ProxyToServerRequestSent()

	// ServerToProxyResponse may mutate or replace the response/body piece.
	ServerToProxyResponse(resp *http.Response) (*http.Response, error)
	ServerToProxyResponseBody(chunk BodyChunk) (BodyChunk, error)

	// ProxyToClientResponse may mutate or replace, just before the write to
	// the client.
	ProxyToClientResponse(resp *http.Response) (*http.Response, error)
	ProxyToClientResponseBody(chunk BodyChunk) (BodyChunk, error)

	// DNS lifecycle. ResolutionStarted may return a non-nil net.Addr that
	// overrides what HostResolver would have produced.
	ProxyToServerResolutionStarted(hostAndPort string) (net.Addr, error)
	ProxyToServerResolutionSucceeded(hostAndPort string, addr net.Addr)
	ProxyToServerResolutionFailed(hostAndPort string, err error)

	// Dial lifecycle, all observational.
	ProxyToServerConnectionQueued()
	ProxyToServerConnectionStarted()
	ProxyToServerConnectionSSLHandshakeStarted()
	ProxyToServerConnectionSucceeded(serverConn net.Conn)
	ProxyToServerConnectionFailed(err error)

	// Read lifecycle, all observational.
	ServerToProxyResponseTimedOut()
	ServerToProxyResponseReceiving()
	ServerToProxyResponseReceived()

	// ProxyToServerAllowMitm is consulted on CONNECT; returning false forces
	// a plain tunnel even if a MitmManager is configured (spec section 4.6).
	ProxyToServerAllowMitm() bool
}

// NoOpFilters is the default, no-op HttpFilters implementation. Embedding it
// lets callers override only the hooks they care about - the same pattern
// the teacher uses for its inspector chain's tolerant-of-partial-failure
// design.
type NoOpFilters struct{}

func (NoOpFilters) ClientToProxyRequest(*http.Request) (*http.Response, error)     { return nil, nil }
func (NoOpFilters) ClientToProxyRequestBody(BodyChunk) (*http.Response, error)     { return nil, nil }
func (NoOpFilters) ProxyToServerRequest(*http.Request) (*http.Response, error)     { return nil, nil }
func (NoOpFilters) ProxyToServerRequestBody(BodyChunk) (*http.Response, error)     { return nil, nil }
func (NoOpFilters) ProxyToServerRequestSending()                                  {}
func (NoOpFilters) ProxyToServerRequestSent()                                     {}
func (NoOpFilters) ServerToProxyResponse(r *http.Response) (*http.Response, error) { return r, nil }
func (NoOpFilters) ServerToProxyResponseBody(c BodyChunk) (BodyChunk, error)       { return c, nil }
func (NoOpFilters) ProxyToClientResponse(r *http.Response) (*http.Response, error) { return r, nil }
func (NoOpFilters) ProxyToClientResponseBody(c BodyChunk) (BodyChunk, error)       { return c, nil }
func (NoOpFilters) ProxyToServerResolutionStarted(string) (net.Addr, error)        { return nil, nil }
func (NoOpFilters) ProxyToServerResolutionSucceeded(string, net.Addr)              {}
func (NoOpFilters) ProxyToServerResolutionFailed(string, error)                    {}
func (NoOpFilters) ProxyToServerConnectionQueued()                                 {}
func (NoOpFilters) ProxyToServerConnectionStarted()                               {}
func (NoOpFilters) ProxyToServerConnectionSSLHandshakeStarted()                    {}
func (NoOpFilters) ProxyToServerConnectionSucceeded(net.Conn)                      {}
func (NoOpFilters) ProxyToServerConnectionFailed(error)                            {}
func (NoOpFilters) ServerToProxyResponseTimedOut()                                 {}
func (NoOpFilters) ServerToProxyResponseReceiving()                                {}
func (NoOpFilters) ServerToProxyResponseReceived()                                 {}
func (NoOpFilters) ProxyToServerAllowMitm() bool                                   { return true }

// NoOpFiltersSource produces a fresh NoOpFilters for every request. It is
// the "no-op filter chain" default named in spec section 6.
type NoOpFiltersSource struct{}

func (NoOpFiltersSource) FilterRequest(context.Context, *http.Request) HttpFilters {
	return NoOpFilters{}
}
