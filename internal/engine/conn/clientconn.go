package conn

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/engine/codec"
	"github.com/relaycore/relay/internal/engine/eventloop"
	"github.com/relaycore/relay/internal/logger"
)

// ClientDeps is everything proxyserver.Proxy assembles per accepted
// connection to build a ClientToProxyConnection.
type ClientDeps struct {
	Conn          net.Conn
	ConnectionID  domain.ConnectionID
	Loop          *Loop
	ServerWorkers *eventloop.Pool
	Options       Options
	Shaper        *codec.TrafficShaper
	Trackers      []ports.ActivityTracker
	ChannelAdd    func(ClientConnection)
	ChannelRemove func(ClientConnection)
	Logger        *logger.StyledLogger
}

// ClientToProxyConnection is the client-facing half of a proxied flow,
// spec section 4.4. On connect it is assigned a connectionId, bound to a
// worker loop, registered in the channel group, and announced to every
// ActivityTracker.
type ClientToProxyConnection struct {
	proxyConnection

	netConn net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer

	connectionID domain.ConnectionID
	loop         *Loop
	serverWorkers *eventloop.Pool
	opts         Options
	shaper       *codec.TrafficShaper
	trackers     []ports.ActivityTracker
	channelAdd   func(ClientConnection)
	channelRemove func(ClientConnection)
	logger       *logger.StyledLogger
	resolver     ports.HostResolver

	flow domain.FlowContext

	// reuse is the per-client-connection map of live upstream connections
	// keyed by host:port (spec section 5: "the server-connection reuse map
	// is per client connection and therefore requires no cross-thread
	// synchronization").
	reuse map[domain.HostPort]*ProxyToServerConnection
}

// NewClientToProxyConnection wires up a ClientToProxyConnection from deps.
// Call Run to drive its lifecycle; Run blocks until the connection closes.
func NewClientToProxyConnection(deps ClientDeps) *ClientToProxyConnection {
	resolver := deps.Options.Resolver
	if resolver == nil {
		resolver = defaultResolver{}
	}
	return &ClientToProxyConnection{
		proxyConnection: newProxyConnection(),
		netConn:         deps.Conn,
		reader:          bufio.NewReader(deps.Conn),
		writer:          bufio.NewWriter(deps.Conn),
		connectionID:    deps.ConnectionID,
		loop:            deps.Loop,
		serverWorkers:   deps.ServerWorkers,
		opts:            deps.Options,
		shaper:          deps.Shaper,
		trackers:        deps.Trackers,
		channelAdd:      deps.ChannelAdd,
		channelRemove:   deps.ChannelRemove,
		logger:          deps.Logger,
		resolver:        resolver,
		flow:            domain.FlowContext{ClientAddress: deps.Conn.RemoteAddr(), ConnectionID: deps.ConnectionID},
		reuse:           make(map[domain.HostPort]*ProxyToServerConnection),
	}
}

func (c *ClientToProxyConnection) notify(f func(ports.ActivityTracker)) {
	for _, t := range c.trackers {
		f(t)
	}
}

// Run drives the connection until it disconnects. It implements the
// request loop of spec section 4.4.
func (c *ClientToProxyConnection) Run() {
	defer c.cleanup()

	c.notify(func(t ports.ActivityTracker) { t.ClientConnected(c.flow) })

	if c.opts.ClientSideKind == clientSideTLS {
		if err := c.negotiateClientTLS(c.opts.SslEngineSource.NewEngine, "", 0); err != nil {
			return
		}
	}

	for {
		if c.isClosed() {
			return
		}
		setIdleDeadline(c.netConn, c.opts.IdleConnectionTimeout)

		req, err := http.ReadRequest(c.reader)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			_ = writeStatusResponse(c.writer, http.StatusBadRequest, nil, "malformed request")
			return
		}
		req.RemoteAddr = c.netConn.RemoteAddr().String()
		if c.loop != nil {
			req = req.WithContext(domain.WithWorkerName(req.Context(), c.loop.Name()))
		}

		keepGoing := c.handleRequest(req)
		if !keepGoing {
			return
		}
	}
}

// handleRequest implements spec section 4.4 "on request head" steps 1-9. It
// returns whether the client connection should stay open for another
// request.
func (c *ClientToProxyConnection) handleRequest(req *http.Request) bool {
	// Step 2: reject requests targeting the proxy itself.
	if isOriginForm(req) && req.Method != http.MethodConnect && !c.opts.AllowRequestsToOriginServer {
		_ = writeStatusResponse(c.writer, http.StatusBadRequest, nil, "origin-form requests not allowed")
		return false
	}

	// Step 3: Proxy-Authentication gate.
	if c.opts.ProxyAuthenticator != nil {
		user, pass, ok := parseBasicAuth(req.Header.Get("Proxy-Authorization"))
		if !ok || !c.opts.ProxyAuthenticator.Authenticate(user, pass) {
			_ = writeStatusResponse(c.writer, http.StatusProxyAuthRequired,
				map[string]string{"Proxy-Authenticate": `Basic realm="relay"`},
				"proxy authentication required")
			return true // connection kept open per spec section 7
		}
	}

	// Step 4: bind a fresh HttpFilters to this request.
	filters := c.opts.FiltersSource.FilterRequest(req.Context(), req)

	// Step 5: filter may short-circuit.
	if resp, err := filters.ClientToProxyRequest(req); err != nil || resp != nil {
		if resp != nil {
			c.writeResponse(resp, req)
			return !req.Close
		}
	}

	// Step 6-7: strip hop-by-hop, append Via.
	keepUpgrade := domain.IsWebSocketUpgrade(req.Header)
	domain.StripHopByHopHeaders(req.Header, keepUpgrade)
	domain.AppendVia(req.Header, req.ProtoMajor, req.ProtoMinor, c.opts.ProxyAlias)

	c.notify(func(t ports.ActivityTracker) { t.RequestReceivedFromClient(c.fullFlow(req)) })

	if req.Method == http.MethodConnect {
		return c.handleConnect(req, filters)
	}

	return c.handlePlainRequest(req, filters)
}

func (c *ClientToProxyConnection) fullFlow(req *http.Request) domain.FullFlowContext {
	hp, _ := targetHostAndPort(req, "80")
	return domain.FullFlowContext{FlowContext: c.flow, ServerHostAndPort: hp}
}

// handlePlainRequest implements spec section 4.4 step 9 and section 4.5 for
// a non-CONNECT request.
func (c *ClientToProxyConnection) handlePlainRequest(req *http.Request, filters ports.HttpFilters) bool {
	hostPort, err := targetHostAndPort(req, "80")
	if err != nil {
		_ = writeStatusResponse(c.writer, http.StatusBadRequest, nil, err.Error())
		return false
	}

	pc, err := c.serverConnectionFor(req.Context(), hostPort, req.Method, filters)
	if err != nil {
		c.notify(func(t ports.ActivityTracker) {
			t.ResponseSentToClient(domain.FullFlowContext{FlowContext: c.flow, ServerHostAndPort: hostPort})
		})
		status := http.StatusBadGateway
		var coder domain.StatusCoder
		if errors.As(err, &coder) {
			status = coder.Status()
		}
		_ = writeStatusResponse(c.writer, status, nil, err.Error())
		return false
	}

	if resp, err := filters.ProxyToServerRequest(req); err != nil || resp != nil {
		if resp != nil {
			c.writeResponse(resp, req)
			return !req.Close
		}
	}

	if resp, err := c.prepareRequestBody(req, filters); err != nil {
		delete(c.reuse, hostPort)
		_ = pc.Close()
		_ = writeStatusResponse(c.writer, http.StatusBadGateway, nil, "request body rejected upstream")
		return false
	} else if resp != nil {
		c.writeResponse(resp, req)
		return !req.Close
	}

	ctx := req.Context()
	if pc.workerName != "" {
		ctx = domain.WithServerWorkerName(ctx, pc.workerName)
	}

	filters.ProxyToServerRequestSending()
	resp, keepUpstream, err := pc.forward(ctx, req, filters, c.shaper, c.opts.MaxChunkSize, c.opts.IdleConnectionTimeout)
	filters.ProxyToServerRequestSent()
	if err != nil {
		delete(c.reuse, hostPort)
		_ = pc.Close()
		_ = writeStatusResponse(c.writer, http.StatusBadGateway, nil, "upstream request failed")
		return false
	}

	full := domain.FullFlowContext{FlowContext: c.flow, ServerHostAndPort: hostPort}
	c.notify(func(t ports.ActivityTracker) { t.ResponseReceivedFromServer(full) })

	if mutated, err := filters.ServerToProxyResponse(resp); err == nil && mutated != nil {
		resp = mutated
	}
	normalizeCloseDelimitedResponse(resp, req)
	if mutated, err := filters.ProxyToClientResponse(resp); err == nil && mutated != nil {
		resp = mutated
	}

	if resp.StatusCode == http.StatusSwitchingProtocols && domain.IsWebSocketUpgrade(req.Header) {
		c.writeResponse(resp, req)
		c.notify(func(t ports.ActivityTracker) { t.ResponseSentToClient(full) })
		delete(c.reuse, hostPort)
		c.runWebSocketTunnel(pc)
		return false
	}

	c.writeResponse(resp, req)
	c.notify(func(t ports.ActivityTracker) { t.ResponseSentToClient(full) })

	if !keepUpstream {
		delete(c.reuse, hostPort)
		_ = pc.Close()
	}

	return !req.Close && resp.ProtoAtLeast(1, 1)
}

// prepareRequestBody wraps req.Body, when present, so each chunk streams
// through the combined ClientToProxyRequestBody/ProxyToServerRequestBody
// filter hooks and the configured MaxChunkSize/traffic shaper before it
// ever reaches the upstream write (spec section 4.6). A non-nil response
// means the first chunk's hook short-circuited the request.
func (c *ClientToProxyConnection) prepareRequestBody(req *http.Request, filters ports.HttpFilters) (*http.Response, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := newBodySource(c.reader, req.TransferEncoding, req.ContentLength, c.opts.MaxChunkSize)
	fb := newFilterBody(req.Context(), src, c.opts.MaxChunkSize, requestBodyHook(filters), c.shaper,
		func() { _ = c.transition(domain.AwaitingChunk) },
		func() { _ = c.transition(domain.AwaitingInitial) },
	)
	if err := fb.Peek(); err != nil {
		return nil, err
	}
	if fb.ShortCircuit != nil {
		return fb.ShortCircuit, nil
	}
	req.Body = fb
	return nil, nil
}

// serverConnectionFor looks up a reusable upstream connection for hostPort
// or creates one, per spec section 4.4 step 9 and section 4.5.
func (c *ClientToProxyConnection) serverConnectionFor(ctx context.Context, hostPort domain.HostPort, method string, filters ports.HttpFilters) (*ProxyToServerConnection, error) {
	if pc, ok := c.reuse[hostPort]; ok && !pc.isClosed() {
		return pc, nil
	}
	pc, err := dialServerConnection(ctx, hostPort, method, c.flow, c.opts, c.resolver, filters, c.serverWorkers)
	if err != nil {
		return nil, err
	}
	c.reuse[hostPort] = pc
	return pc, nil
}

// normalizeCloseDelimitedResponse implements spec section 4.4: "If the
// response lacks both Content-Length and Transfer-Encoding, and is not a
// HEAD response, and the server signaled end by close, set
// Transfer-Encoding: chunked before sending to the client." Per the Open
// Question resolution in spec section 9, this only happens for HTTP/1.1
// clients; HTTP/1.0 clients get the close-delimited framing unchanged.
func normalizeCloseDelimitedResponse(resp *http.Response, req *http.Request) {
	if req.Method == http.MethodHead {
		return
	}
	if resp.ContentLength >= 0 || len(resp.TransferEncoding) > 0 {
		return
	}
	if !resp.Close {
		return
	}
	if !req.ProtoAtLeast(1, 1) {
		return
	}
	resp.TransferEncoding = []string{"chunked"}
	resp.ContentLength = -1
}

// writeResponse writes resp to the client, respecting HEAD semantics (spec
// section 8: "HEAD responses never carry an entity body regardless of
// upstream framing").
func (c *ClientToProxyConnection) writeResponse(resp *http.Response, req *http.Request) {
	if req.Method == http.MethodHead {
		resp.Body = http.NoBody
		resp.ContentLength = 0
		resp.TransferEncoding = nil
	}
	_ = resp.Write(c.writer)
	_ = c.writer.Flush()
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func (c *ClientToProxyConnection) cleanup() {
	c.markClosed()
	c.notify(func(t ports.ActivityTracker) { t.ClientDisconnected(c.flow) })
	for hp, pc := range c.reuse {
		_ = pc.Close()
		delete(c.reuse, hp)
	}
	if c.channelRemove != nil {
		c.channelRemove(c)
	}
	_ = c.netConn.Close()
}

// AwaitDrainOrClose implements ClientConnection for graceful shutdown
// (spec section 5: "waits up to 10s for open channels to drain, then closes
// them").
func (c *ClientToProxyConnection) AwaitDrainOrClose(ctx context.Context) {
	c.awaitClosed(ctx)
	c.CloseNow()
}

// CloseNow implements ClientConnection's immediate-abort path.
func (c *ClientToProxyConnection) CloseNow() {
	_ = c.netConn.Close()
}
