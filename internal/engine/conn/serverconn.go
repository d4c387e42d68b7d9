package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/engine/codec"
	"github.com/relaycore/relay/internal/engine/eventloop"
	"github.com/relaycore/relay/internal/util"
)

// ProxyToServerConnection is the upstream half of a flow, per spec section
// 4.5. One is created lazily per distinct host:port a client connection
// talks to, and is kept in that client connection's reuse map until
// Connection: close or an upstream close retires it (spec section 3
// "destroyed on idle-timeout, peer disconnect, or upstream close").
type ProxyToServerConnection struct {
	proxyConnection

	hostPort domain.HostPort
	netConn  net.Conn
	reader   *bufio.Reader

	candidate  ports.ChainCandidate // nil for a direct hop
	workerName string               // bound server-worker loop name, spec section 5
}

// Chain-candidate redial backoff (spec section 4.5 step 1's retry loop):
// each failed candidate before the next attempt
// waits an exponentially growing delay, per internal/util.CalculateExponentialBackoff.
const (
	chainRetryBaseDelay = 25 * time.Millisecond
	chainRetryMaxDelay  = 1 * time.Second
	chainRetryJitter    = 0.2
)

// dialServerConnection implements the creation flow of spec section 4.5
// steps 1-4: chain lookup, resolution, dial with timeout, optional TLS.
func dialServerConnection(
	ctx context.Context,
	hostPort domain.HostPort,
	method string,
	client domain.FlowContext,
	opts Options,
	resolver ports.HostResolver,
	filters ports.HttpFilters,
	serverWorkers *eventloop.Pool,
) (*ProxyToServerConnection, error) {
	var candidates []ports.ChainCandidate
	if opts.ChainProxyManager != nil {
		cs, err := opts.ChainProxyManager.Lookup(ctx, method, string(hostPort), client)
		if err != nil {
			return nil, &domain.ConnectionFailure{HostPort: hostPort, Err: err}
		}
		candidates = cs
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	// Direct hop attempted where the queue holds the FallbackToDirect
	// sentinel, or immediately when there is no chain at all (spec section
	// 4.5 step 1: "an empty queue means no chain").
	attempts := append([]ports.ChainCandidate{}, candidates...)
	triedDirect := false
	attempt := 0
	for i := 0; i <= len(attempts); i++ {
		if attempt > 0 {
			waitChainRetryBackoff(dialCtx, attempt)
		}
		attempt++

		var candidate ports.ChainCandidate
		if i < len(attempts) {
			candidate = attempts[i]
			if candidate == ports.FallbackToDirect {
				triedDirect = true
				pc, err := dialDirect(dialCtx, hostPort, client, opts, resolver, filters)
				if err == nil {
					pc.bindServerWorker(serverWorkers)
					return pc, nil
				}
				continue
			}
		} else {
			if triedDirect || len(attempts) > 0 {
				break
			}
			pc, err := dialDirect(dialCtx, hostPort, client, opts, resolver, filters)
			if err != nil {
				return nil, err
			}
			pc.bindServerWorker(serverWorkers)
			return pc, nil
		}

		pc, err := dialChainCandidate(dialCtx, hostPort, method, client, candidate, opts, filters)
		if err != nil {
			candidate.ConnectionFailed(err)
			continue
		}
		candidate.ConnectionSucceeded()
		pc.bindServerWorker(serverWorkers)
		return pc, nil
	}

	return nil, &domain.ConnectionFailure{HostPort: hostPort, Err: fmt.Errorf("all chain candidates and direct hop exhausted")}
}

// waitChainRetryBackoff sleeps the computed exponential backoff before the
// next chain-candidate attempt, returning early if dialCtx is done first.
func waitChainRetryBackoff(dialCtx context.Context, attempt int) {
	delay := util.CalculateExponentialBackoff(attempt, chainRetryBaseDelay, chainRetryMaxDelay, chainRetryJitter)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-dialCtx.Done():
	}
}

// bindServerWorker permanently assigns pc a name drawn from the shared
// server-worker pool (spec section 5), exposed to filters via
// domain.WithServerWorkerName so a request's filter chain can observe which
// server worker its upstream connection was bound to.
func (pc *ProxyToServerConnection) bindServerWorker(pool *eventloop.Pool) {
	if pool == nil {
		return
	}
	pc.workerName = pool.Next().Name()
}

func dialDirect(
	ctx context.Context,
	hostPort domain.HostPort,
	client domain.FlowContext,
	opts Options,
	resolver ports.HostResolver,
	filters ports.HttpFilters,
) (*ProxyToServerConnection, error) {
	host, portStr, err := net.SplitHostPort(string(hostPort))
	if err != nil {
		return nil, &domain.ResolutionFailure{HostPort: hostPort, Err: err}
	}
	port := 0
	fmt.Sscanf(portStr, "%d", &port)

	addr, _ := filters.ProxyToServerResolutionStarted(string(hostPort))
	if addr == nil {
		addr, err = resolver.Resolve(ctx, host, port)
		if err != nil {
			filters.ProxyToServerResolutionFailed(string(hostPort), err)
			return nil, &domain.ResolutionFailure{HostPort: hostPort, Err: err}
		}
	}
	filters.ProxyToServerResolutionSucceeded(string(hostPort), addr)

	filters.ProxyToServerConnectionQueued()
	filters.ProxyToServerConnectionStarted()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		filters.ProxyToServerConnectionFailed(err)
		return nil, &domain.ConnectionFailure{HostPort: hostPort, Err: err}
	}

	if opts.SendProxyProtocol {
		if err := codec.WriteProxyProtocolHeader(nc, codec.ProxyProtocolV2, client.ClientAddress, nc.RemoteAddr()); err != nil {
			_ = nc.Close()
			filters.ProxyToServerConnectionFailed(err)
			return nil, &domain.ConnectionFailure{HostPort: hostPort, Err: err}
		}
	}

	pc := &ProxyToServerConnection{
		proxyConnection: newProxyConnection(),
		hostPort:        hostPort,
		netConn:         nc,
		reader:          bufio.NewReader(nc),
	}
	filters.ProxyToServerConnectionSucceeded(nc)
	return pc, nil
}

// dialChainCandidate dials candidate's address and, for a CONNECT target,
// either issues a real HTTP CONNECT through it (when candidate.ForwardsConnect
// reports true, spec section 4.5 step 5) or rejects the candidate as unable
// to carry a tunnel.
func dialChainCandidate(
	ctx context.Context,
	hostPort domain.HostPort,
	method string,
	client domain.FlowContext,
	candidate ports.ChainCandidate,
	opts Options,
	filters ports.HttpFilters,
) (*ProxyToServerConnection, error) {
	if method == http.MethodConnect && !candidate.ForwardsConnect() {
		return nil, fmt.Errorf("conn: chain candidate does not forward CONNECT")
	}

	filters.ProxyToServerConnectionQueued()
	filters.ProxyToServerConnectionStarted()

	addr, err := candidate.ChainedProxyAddress(ctx)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return nil, err
	}

	if opts.SendProxyProtocol {
		if err := codec.WriteProxyProtocolHeader(nc, codec.ProxyProtocolV2, client.ClientAddress, nc.RemoteAddr()); err != nil {
			_ = nc.Close()
			return nil, err
		}
	}

	if candidate.RequiresEncryption() {
		filters.ProxyToServerConnectionSSLHandshakeStarted()
		cfgFactory, err := candidate.NewSSLEngine()
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		var cfg *tls.Config
		if cfgFactory != nil {
			cfg, err = cfgFactory()
			if err != nil {
				_ = nc.Close()
				return nil, err
			}
		}
		tlsConn := tls.Client(nc, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, err
		}
		nc = tlsConn
	}

	reader := bufio.NewReader(nc)

	if method == http.MethodConnect {
		connectReq := &http.Request{
			Method: http.MethodConnect,
			URL:    &url.URL{Opaque: string(hostPort)},
			Host:   string(hostPort),
			Header: make(http.Header),
		}
		if err := connectReq.Write(nc); err != nil {
			_ = nc.Close()
			return nil, err
		}
		resp, err := http.ReadResponse(reader, connectReq)
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			_ = nc.Close()
			return nil, fmt.Errorf("conn: chain candidate CONNECT failed: %s", resp.Status)
		}
	}

	pc := &ProxyToServerConnection{
		proxyConnection: newProxyConnection(),
		hostPort:        hostPort,
		netConn:         nc,
		reader:          reader,
		candidate:       candidate,
	}
	return pc, nil
}

// forward writes req to the upstream connection and reads back its
// response, per spec section 4.5 step 6 and the response-path paragraph
// that follows it. keepAlive reports whether the upstream signalled it
// would keep the connection open (no Connection: close, no forced close by
// the upstream). idleTimeout arms the same per-half idle deadline the
// client leg uses, so an upstream that goes silent is torn down rather
// than held open indefinitely in the reuse map.
//
// The response body, when present, is replaced with a mutatingBody so its
// chunks stream through the ServerToProxyResponseBody/ProxyToClientResponseBody
// hooks and the shared traffic shaper before req.Write's caller ever reads
// them (SPEC_FULL.md section 4.6). resp.Body is discarded unread rather than
// closed: http's own body Close drains the connection, which would consume
// the bytes mutatingBody still needs to decode.
func (pc *ProxyToServerConnection) forward(
	ctx context.Context,
	req *http.Request,
	filters ports.HttpFilters,
	shaper *codec.TrafficShaper,
	maxChunkSize int,
	idleTimeout time.Duration,
) (*http.Response, bool, error) {
	setIdleDeadline(pc.netConn, idleTimeout)
	if err := req.Write(pc.netConn); err != nil {
		return nil, false, &domain.ConnectionFailure{HostPort: pc.hostPort, Err: err}
	}
	resp, err := http.ReadResponse(pc.reader, req)
	if err != nil {
		return nil, false, &domain.ConnectionFailure{HostPort: pc.hostPort, Err: err}
	}

	if resp.Body != nil && resp.Body != http.NoBody {
		src := newBodySource(pc.reader, resp.TransferEncoding, resp.ContentLength, maxChunkSize)
		resp.Body = newMutatingBody(ctx, src, maxChunkSize, responseBodyHook(filters), shaper,
			func() { _ = pc.transition(domain.AwaitingProxyChunk) },
			func() { _ = pc.transition(domain.AwaitingInitial) },
		)
	}

	keepAlive := resp.Close == false && resp.ProtoAtLeast(1, 1)
	return resp, keepAlive, nil
}

func (pc *ProxyToServerConnection) Close() error {
	pc.markClosed()
	return pc.netConn.Close()
}
