package domain

import (
	"fmt"
	"net/http"
)

// The error taxonomy from spec section 7. Each type carries enough context
// to pick an HTTP status/body and to feed ActivityTracker, and is matched
// with errors.As at the connection state machine boundary - it never
// propagates past the owning connection's goroutine (spec section 5).

// ClientProtocolError is a malformed request, an oversized header, or an
// origin-form request when allowRequestsToOriginServer is false.
type ClientProtocolError struct {
	Reason string
	Err    error
}

func (e *ClientProtocolError) Error() string {
	return fmt.Sprintf("client protocol error: %s: %v", e.Reason, e.Err)
}

func (e *ClientProtocolError) Unwrap() error { return e.Err }

func (e *ClientProtocolError) Status() int { return http.StatusBadRequest }

// AuthenticationRequiredError signals a missing or invalid Proxy-Authorization
// header. The connection is kept open after the 407 is sent.
type AuthenticationRequiredError struct {
	Realm string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("proxy authentication required (realm %q)", e.Realm)
}

func (e *AuthenticationRequiredError) Status() int { return http.StatusProxyAuthRequired }

// ResolutionFailure is a DNS/HostResolver failure for the target host.
type ResolutionFailure struct {
	HostPort HostPort
	Err      error
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("could not resolve %s: %v", e.HostPort, e.Err)
}

func (e *ResolutionFailure) Unwrap() error { return e.Err }

func (e *ResolutionFailure) Status() int { return http.StatusBadGateway }

// ConnectionFailure is a dial, TLS-handshake, or chain-candidate failure.
// TlsHandshakeFailure on the upstream leg is represented as a
// ConnectionFailure per spec section 7.
type ConnectionFailure struct {
	HostPort  HostPort
	Candidate string // chain candidate name, empty for a direct hop
	Err       error
}

func (e *ConnectionFailure) Error() string {
	if e.Candidate != "" {
		return fmt.Sprintf("connection to %s via %s failed: %v", e.HostPort, e.Candidate, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.HostPort, e.Err)
}

func (e *ConnectionFailure) Unwrap() error { return e.Err }

func (e *ConnectionFailure) Status() int { return http.StatusBadGateway }

// TLSHandshakeFailure is specific to the client-facing leg: there is no HTTP
// response for it, the socket is simply reset (spec section 7).
type TLSHandshakeFailure struct {
	Err error
}

func (e *TLSHandshakeFailure) Error() string {
	return fmt.Sprintf("client TLS handshake failed: %v", e.Err)
}

func (e *TLSHandshakeFailure) Unwrap() error { return e.Err }

// TimeoutError is an idle timeout. Before a response head arrives it is a
// 504; mid-body it means abort (no partial extra body written back).
type TimeoutError struct {
	HostPort HostPort
	MidBody  bool
}

func (e *TimeoutError) Error() string {
	if e.MidBody {
		return fmt.Sprintf("timeout mid-body from %s, aborting", e.HostPort)
	}
	return fmt.Sprintf("timeout waiting on response head from %s", e.HostPort)
}

func (e *TimeoutError) Status() int { return http.StatusGatewayTimeout }

// FilterShortCircuit is not really an error - a filter returned a response
// that replaces the request it was invoked for. It is modelled as an error
// type purely so it can flow through the same error-taxonomy switch that
// decides what to write back to the client.
type FilterShortCircuit struct {
	Response *http.Response
}

func (e *FilterShortCircuit) Error() string {
	return fmt.Sprintf("filter short-circuited with status %d", e.Response.StatusCode)
}

// FatalError is an internal invariant violation: log, close both halves, no
// response is sent.
type FatalError struct {
	Invariant string
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: invariant %q violated: %v", e.Invariant, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// StatusCoder is implemented by every error type above that corresponds to a
// concrete HTTP status the client connection should be told about.
type StatusCoder interface {
	error
	Status() int
}
