package ports

import "crypto/tls"

// TLSConfigFactory defers building a *tls.Config until it is actually
// needed, since building one may involve loading a keystore (an external
// collaborator in spec section 1).
type TLSConfigFactory func() (*tls.Config, error)

// SslEngineSource is the external collaborator:
// "SslEngineSource.newEngine(peerHost?, peerPort?) -> TlsSession"
// (spec section 1). It encrypts the client-facing leg when configured, and
// is mutually exclusive with MitmManager (spec section 6, "mitmManager...
// exclusive with sslEngineSource").
type SslEngineSource interface {
	// NewEngine returns the server-side *tls.Config used to terminate the
	// client's TLS connection. peerHost/peerPort are empty/zero when not
	// yet known (plain listen-socket TLS rather than a CONNECT tunnel).
	NewEngine(peerHost string, peerPort int) (*tls.Config, error)
}

// MitmManager is the external collaborator:
// "MitmManager.{serverEngine, clientEngineFor(request, serverSession)}"
// (spec section 1). When configured it is selected on a successful CONNECT
// instead of a plain tunnel; see engine/conn's NegotiatingConnect handling.
type MitmManager interface {
	// ServerEngine returns the *tls.Config the proxy uses to terminate the
	// client's TLS connection for the given CONNECT target, generating (or
	// fetching from its own CA) a leaf certificate for host:port.
	ServerEngine(host string, port int) (*tls.Config, error)

	// ClientEngineFor returns the *tls.Config used to dial the real origin
	// once the client side has been terminated, optionally informed by the
	// just-negotiated server-side TLS connection state.
	ClientEngineFor(host string, port int, serverSession *tls.ConnectionState) (*tls.Config, error)
}
