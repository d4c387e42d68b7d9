package conn

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"testing"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

type fakeCandidate struct {
	addr            net.Addr
	forwardsConnect bool
	failed          error
	succeeded       bool
}

func (f *fakeCandidate) Name() string { return "fake" }
func (f *fakeCandidate) ChainedProxyAddress(context.Context) (net.Addr, error) {
	return f.addr, nil
}
func (f *fakeCandidate) RequiresEncryption() bool { return false }
func (f *fakeCandidate) NewSSLEngine() (ports.TLSConfigFactory, error) { return nil, nil }
func (f *fakeCandidate) ForwardsConnect() bool                        { return f.forwardsConnect }
func (f *fakeCandidate) ConnectionFailed(err error)                   { f.failed = err }
func (f *fakeCandidate) ConnectionSucceeded()                         { f.succeeded = true }

func TestDialChainCandidateRejectsConnectWhenNotForwarded(t *testing.T) {
	candidate := &fakeCandidate{forwardsConnect: false}
	_, err := dialChainCandidate(context.Background(), "example.com:443", http.MethodConnect, domain.FlowContext{}, candidate, Options{}, ports.NoOpFilters{})
	if err == nil {
		t.Fatal("expected an error when the candidate cannot forward CONNECT")
	}
}

func TestDialChainCandidateIssuesConnectHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error opening listener: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		if req.Method != http.MethodConnect || req.Host != "upstream.internal:443" {
			conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n"))
			return
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	candidate := &fakeCandidate{addr: ln.Addr(), forwardsConnect: true}
	pc, err := dialChainCandidate(context.Background(), "upstream.internal:443", http.MethodConnect, domain.FlowContext{}, candidate, Options{}, ports.NoOpFilters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pc.Close()

	<-done
}

func TestDialChainCandidateFailsOnNonOKConnectResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error opening listener: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = http.ReadRequest(bufio.NewReader(conn))
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n"))
	}()

	candidate := &fakeCandidate{addr: ln.Addr(), forwardsConnect: true}
	_, err = dialChainCandidate(context.Background(), "upstream.internal:443", http.MethodConnect, domain.FlowContext{}, candidate, Options{}, ports.NoOpFilters{})
	if err == nil {
		t.Fatal("expected a non-200 CONNECT response to fail the dial")
	}
}

func TestDialServerConnectionExhaustsCandidatesThenFails(t *testing.T) {
	bad := &fakeCandidate{addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}, forwardsConnect: true}
	manager := staticCandidateManager{candidates: []ports.ChainCandidate{bad}}

	opts := Options{ConnectTimeout: 0, ChainProxyManager: manager}
	_, err := dialServerConnection(context.Background(), domain.HostPort("upstream.internal:443"), http.MethodConnect, domain.FlowContext{}, opts, nopResolver{}, ports.NoOpFilters{}, nil)
	if err == nil {
		t.Fatal("expected dialServerConnection to fail once every chain candidate is exhausted")
	}
	if bad.failed == nil {
		t.Error("expected ConnectionFailed to be invoked on the refused candidate")
	}
}

type staticCandidateManager struct {
	candidates []ports.ChainCandidate
}

func (m staticCandidateManager) Lookup(context.Context, string, string, domain.FlowContext) ([]ports.ChainCandidate, error) {
	return m.candidates, nil
}

type nopResolver struct{}

func (nopResolver) Resolve(context.Context, string, int) (net.Addr, error) {
	return nil, errUnreachable
}

var errUnreachable = &net.AddrError{Err: "unreachable", Addr: "upstream.internal"}
