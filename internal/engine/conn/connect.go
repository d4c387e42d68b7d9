package conn

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

// handleConnect implements spec section 4.4 step 8 and section 4.3's
// NegotiatingConnect/AwaitingConnectOk/HandshakingTLS/Tunneling transitions.
func (c *ClientToProxyConnection) handleConnect(req *http.Request, filters ports.HttpFilters) bool {
	if err := c.transition(domain.NegotiatingConnect); err != nil {
		return false
	}

	hostPort, err := targetHostAndPort(req, "443")
	if err != nil {
		_ = writeStatusResponse(c.writer, http.StatusBadRequest, nil, err.Error())
		return false
	}

	allowMitm := filters.ProxyToServerAllowMitm()
	useMitm := allowMitm && c.opts.ClientSideKind == clientSideMitm && c.opts.MitmManager != nil

	pc, err := dialServerConnection(req.Context(), hostPort, http.MethodConnect, c.flow, c.opts, c.resolver, filters, c.serverWorkers)
	if err != nil {
		_ = writeStatusResponse(c.writer, http.StatusBadGateway, nil, "could not establish tunnel")
		return false
	}
	if err := c.transition(domain.AwaitingConnectOk); err != nil {
		_ = pc.Close()
		return false
	}

	if _, err := c.writer.WriteString("HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		_ = pc.Close()
		return false
	}
	if err := c.writer.Flush(); err != nil {
		_ = pc.Close()
		return false
	}

	host, portStr, _ := net.SplitHostPort(string(hostPort))
	port := 0
	for _, ch := range portStr {
		if ch < '0' || ch > '9' {
			port = 0
			break
		}
		port = port*10 + int(ch-'0')
	}

	if useMitm {
		return c.runMitm(host, port, pc, filters)
	}
	return c.runTunnel(pc)
}

// runMitm implements the MITM transition: "after a successful CONNECT, the
// pipeline inserts a fresh TLS engine in front of an HTTP decoder/encoder
// pair and the handler resumes at AwaitingInitial" (spec section 4.2).
func (c *ClientToProxyConnection) runMitm(host string, port int, pc *ProxyToServerConnection, filters ports.HttpFilters) bool {
	if err := c.transition(domain.HandshakingTLS); err != nil {
		_ = pc.Close()
		return false
	}

	serverCfg, err := c.opts.MitmManager.ServerEngine(host, port)
	if err != nil {
		_ = pc.Close()
		return false
	}
	tlsClientSide := tls.Server(c.netConn, serverCfg)
	if err := tlsClientSide.Handshake(); err != nil {
		_ = pc.Close()
		return false
	}
	c.notify(func(t ports.ActivityTracker) { t.ClientSSLHandshakeSucceeded(c.flow) })

	var serverSession *tls.ConnectionState
	clientCfg, err := c.opts.MitmManager.ClientEngineFor(host, port, serverSession)
	if err != nil {
		_ = pc.Close()
		return false
	}
	tlsServerSide := tls.Client(pc.netConn, clientCfg)
	if err := tlsServerSide.Handshake(); err != nil {
		_ = pc.Close()
		return false
	}
	state := tlsServerSide.ConnectionState()
	serverSession = &state

	c.netConn = tlsClientSide
	c.reader = bufio.NewReader(tlsClientSide)
	c.writer = bufio.NewWriter(tlsClientSide)
	clientState := tlsClientSide.ConnectionState()
	c.flow.ClientTLS = &clientState

	pc.netConn = tlsServerSide
	pc.reader = bufio.NewReader(tlsServerSide)
	c.reuse[pc.hostPort] = pc

	if err := c.transition(domain.AwaitingInitial); err != nil {
		return false
	}
	return true
}

// runTunnel implements the plain CONNECT tunnel transition: "the HTTP codec
// is removed and replaced with a pipe-handler that forwards every inbound
// buffer to the peer channel and closes on peer EOF" (spec section 4.2),
// and disables idle detection while Tunneling by clearing the deadline the
// request loop armed before reading the CONNECT request (spec section 4.3).
func (c *ClientToProxyConnection) runTunnel(pc *ProxyToServerConnection) bool {
	if err := c.transition(domain.Tunneling); err != nil {
		_ = pc.Close()
		return false
	}
	_ = c.netConn.SetDeadline(time.Time{})

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(pc.netConn, c.reader)
		_ = closeWrite(pc.netConn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(c.writer, pc.reader)
		_ = c.writer.Flush()
		_ = closeWrite(c.netConn)
		errCh <- err
	}()

	<-errCh
	<-errCh

	_ = pc.Close()
	delete(c.reuse, pc.hostPort)
	_ = c.transition(domain.Disconnected)
	return false
}

func closeWrite(nc net.Conn) error {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := nc.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// negotiateClientTLS terminates the plain sslEngineSource TLS variant on
// the client leg, used when ClientSideKind == clientSideTLS (no CONNECT
// tunnel involved - the listen socket itself is TLS).
func (c *ClientToProxyConnection) negotiateClientTLS(newEngine func(string, int) (*tls.Config, error), peerHost string, peerPort int) error {
	cfg, err := newEngine(peerHost, peerPort)
	if err != nil {
		return err
	}
	tlsConn := tls.Server(c.netConn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return errors.New("conn: client TLS handshake failed: " + err.Error())
	}
	c.netConn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.writer = bufio.NewWriter(tlsConn)
	state := tlsConn.ConnectionState()
	c.flow.ClientTLS = &state
	c.notify(func(t ports.ActivityTracker) { t.ClientSSLHandshakeSucceeded(c.flow) })
	return nil
}
