// Package filter implements the HttpFilters dispatch contract of spec
// section 4.6: one HttpFilters instance bound per original client request,
// composed from an ordered list of sub-filters. It is grounded on the
// teacher's internal/adapter/inspector.Chain, generalised from a
// read-only request inspection chain (which tolerates a failing inspector
// and continues) into a full request/response filter chain where any
// member may short-circuit or mutate.
package filter

import (
	"context"
	"net"
	"net/http"

	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/logger"
)

// Chain is an ordered, composable ports.HttpFilters. Each hook is invoked
// on every member in order; a request hook that short-circuits (or errors)
// stops iteration and returns immediately (spec section 4.6: "may return a
// HttpResponse that short-circuits the request"), while response and body
// hooks hand each member's possibly mutated value on to the next member.
type Chain struct {
	members []ports.HttpFilters
	log     *logger.StyledLogger
}

func NewChain(log *logger.StyledLogger, members ...ports.HttpFilters) *Chain {
	return &Chain{members: members, log: log}
}

func (c *Chain) ClientToProxyRequest(head *http.Request) (*http.Response, error) {
	for _, m := range c.members {
		resp, err := m.ClientToProxyRequest(head)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

func (c *Chain) ClientToProxyRequestBody(chunk ports.BodyChunk) (*http.Response, error) {
	for _, m := range c.members {
		resp, err := m.ClientToProxyRequestBody(chunk)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

func (c *Chain) ProxyToServerRequest(req *http.Request) (*http.Response, error) {
	for _, m := range c.members {
		resp, err := m.ProxyToServerRequest(req)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

func (c *Chain) ProxyToServerRequestBody(chunk ports.BodyChunk) (*http.Response, error) {
	for _, m := range c.members {
		resp, err := m.ProxyToServerRequestBody(chunk)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

func (c *Chain) ProxyToServerRequestSending() {
	for _, m := range c.members {
		m.ProxyToServerRequestSending()
	}
}

func (c *Chain) ProxyToServerRequestSent() {
	for _, m := range c.members {
		m.ProxyToServerRequestSent()
	}
}

func (c *Chain) ServerToProxyResponse(resp *http.Response) (*http.Response, error) {
	cur := resp
	for _, m := range c.members {
		next, err := m.ServerToProxyResponse(cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

func (c *Chain) ServerToProxyResponseBody(chunk ports.BodyChunk) (ports.BodyChunk, error) {
	cur := chunk
	for _, m := range c.members {
		next, err := m.ServerToProxyResponseBody(cur)
		if err != nil {
			return ports.BodyChunk{}, err
		}
		cur = next
	}
	return cur, nil
}

func (c *Chain) ProxyToClientResponse(resp *http.Response) (*http.Response, error) {
	cur := resp
	for _, m := range c.members {
		next, err := m.ProxyToClientResponse(cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
		}
	}
	return cur, nil
}

func (c *Chain) ProxyToClientResponseBody(chunk ports.BodyChunk) (ports.BodyChunk, error) {
	cur := chunk
	for _, m := range c.members {
		next, err := m.ProxyToClientResponseBody(cur)
		if err != nil {
			return ports.BodyChunk{}, err
		}
		cur = next
	}
	return cur, nil
}

func (c *Chain) ProxyToServerResolutionStarted(hostAndPort string) (net.Addr, error) {
	for _, m := range c.members {
		addr, err := m.ProxyToServerResolutionStarted(hostAndPort)
		if err != nil {
			return nil, err
		}
		if addr != nil {
			return addr, nil
		}
	}
	return nil, nil
}

func (c *Chain) ProxyToServerResolutionSucceeded(hostAndPort string, addr net.Addr) {
	for _, m := range c.members {
		m.ProxyToServerResolutionSucceeded(hostAndPort, addr)
	}
}

func (c *Chain) ProxyToServerResolutionFailed(hostAndPort string, err error) {
	for _, m := range c.members {
		m.ProxyToServerResolutionFailed(hostAndPort, err)
	}
}

func (c *Chain) ProxyToServerConnectionQueued() {
	for _, m := range c.members {
		m.ProxyToServerConnectionQueued()
	}
}

func (c *Chain) ProxyToServerConnectionStarted() {
	for _, m := range c.members {
		m.ProxyToServerConnectionStarted()
	}
}

func (c *Chain) ProxyToServerConnectionSSLHandshakeStarted() {
	for _, m := range c.members {
		m.ProxyToServerConnectionSSLHandshakeStarted()
	}
}

func (c *Chain) ProxyToServerConnectionSucceeded(serverConn net.Conn) {
	for _, m := range c.members {
		m.ProxyToServerConnectionSucceeded(serverConn)
	}
}

func (c *Chain) ProxyToServerConnectionFailed(err error) {
	for _, m := range c.members {
		m.ProxyToServerConnectionFailed(err)
	}
}

func (c *Chain) ServerToProxyResponseTimedOut() {
	for _, m := range c.members {
		m.ServerToProxyResponseTimedOut()
	}
}

func (c *Chain) ServerToProxyResponseReceiving() {
	for _, m := range c.members {
		m.ServerToProxyResponseReceiving()
	}
}

func (c *Chain) ServerToProxyResponseReceived() {
	for _, m := range c.members {
		m.ServerToProxyResponseReceived()
	}
}

func (c *Chain) ProxyToServerAllowMitm() bool {
	for _, m := range c.members {
		if !m.ProxyToServerAllowMitm() {
			return false
		}
	}
	return true
}

// Source builds a fresh Chain for every original client request, wiring in
// the configured member filters (spec section 1:
// "HttpFiltersSource.filterRequest(request, ctx?) -> HttpFilters").
type Source struct {
	log      *logger.StyledLogger
	Builders []func() ports.HttpFilters
}

func NewSource(log *logger.StyledLogger, builders ...func() ports.HttpFilters) *Source {
	return &Source{log: log, Builders: builders}
}

func (s *Source) FilterRequest(ctx context.Context, original *http.Request) ports.HttpFilters {
	members := make([]ports.HttpFilters, 0, len(s.Builders))
	for _, b := range s.Builders {
		members = append(members, b())
	}
	return NewChain(s.log, members...)
}
