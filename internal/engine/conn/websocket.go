package conn

import (
	"io"
	"time"

	"github.com/relaycore/relay/internal/core/domain"
)

// runWebSocketTunnel hands the connection over to a raw byte pump once the
// upstream has answered a WebSocket upgrade with 101 Switching Protocols
// (SPEC_FULL.md section 5.4). It mirrors runTunnel's CONNECT takeover: after
// the 101 response is on the wire, neither leg speaks HTTP again, so Run
// must not call http.ReadRequest on these bytes - the caller is expected to
// return false from handleRequest immediately after invoking this. Like
// runTunnel it disables idle detection while Tunneling, here by clearing
// the deadlines armed on both legs for the upgrade request and response.
func (c *ClientToProxyConnection) runWebSocketTunnel(pc *ProxyToServerConnection) {
	if err := c.transition(domain.Tunneling); err != nil {
		_ = pc.Close()
		return
	}
	_ = c.netConn.SetDeadline(time.Time{})
	_ = pc.netConn.SetDeadline(time.Time{})

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
	_ = c.transition(domain.Disconnected)
}
