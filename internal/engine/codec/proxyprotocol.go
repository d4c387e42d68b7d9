package codec

import (
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// ProxyProtocolVersion selects which HAProxy PROXY protocol wire format to
// emit toward an upstream (spec section 6.2: "PROXY protocol v1 and v2 per
// HAProxy spec").
type ProxyProtocolVersion int

const (
	ProxyProtocolV1 ProxyProtocolVersion = 1
	ProxyProtocolV2 ProxyProtocolVersion = 2
)

// AcceptProxyProtocol wraps a raw client listener so that, when enabled, the
// leading PROXY protocol header (v1 or v2, auto-detected) is parsed off each
// accepted connection and its source address substituted for the socket's
// own remote address (spec section 4.2, stage 2: "optional
// proxy-protocol-decoder (if accept-proxy-protocol configured)").
func AcceptProxyProtocol(l net.Listener, headerReadTimeout time.Duration) net.Listener {
	return &proxyproto.Listener{
		Listener:          l,
		ReadHeaderTimeout: headerReadTimeout,
	}
}

// WriteProxyProtocolHeader emits a PROXY protocol header for srcAddr/dstAddr
// onto conn before any HTTP bytes, used when sendProxyProtocol is configured
// on the upstream hop (spec section 6.2: "emit to upstream if enabled").
func WriteProxyProtocolHeader(conn net.Conn, version ProxyProtocolVersion, srcAddr, dstAddr net.Addr) error {
	header := proxyproto.HeaderProxyFromAddrs(byte(version), srcAddr, dstAddr)
	_, err := header.WriteTo(conn)
	return err
}
