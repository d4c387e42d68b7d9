package proxyserver_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/engine/servergroup"
	"github.com/relaycore/relay/internal/logger"
	"github.com/relaycore/relay/internal/mitm"
	"github.com/relaycore/relay/internal/proxyserver"
	"github.com/relaycore/relay/theme"
)

// This file covers the round-trip scenarios a unit test on a single package
// can't reach: a real client talking to a real proxyserver.Proxy talking to
// a real origin, exercising the full accept -> filter -> forward -> respond
// path the way internal/router's registry tests exercise a live HTTP mux.

func newIntegrationLogger(t *testing.T) *logger.StyledLogger {
	t.Helper()
	log, _, err := logger.New(&logger.Config{Level: "error", Theme: "default"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return logger.NewStyledLogger(log, theme.Default())
}

// startTestProxy brings up a ServerGroup-backed Proxy on loopback and
// returns it bound and accepting; stopping it is registered with t.Cleanup.
func startTestProxy(t *testing.T, opts proxyserver.Options) *proxyserver.Proxy {
	t.Helper()
	group := servergroup.New(servergroup.Options{Name: "it", Logger: newIntegrationLogger(t)})
	opts.Address = "127.0.0.1"
	opts.Port = 0
	opts.AllowLocalOnly = true
	p := proxyserver.New(opts, group, newIntegrationLogger(t))
	if err := p.Start(); err != nil {
		t.Fatalf("proxy start: %v", err)
	}
	t.Cleanup(func() {
		_ = p.Stop(false)
		_ = group.Shutdown(context.Background(), false)
	})
	return p
}

func proxyClient(t *testing.T, boundAddr net.Addr, tlsCfg *tls.Config) *http.Client {
	t.Helper()
	proxyURL := &url.URL{Scheme: "http", Host: boundAddr.String()}
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: tlsCfg,
		},
	}
}

// TestProxyPlainHTTPRoundTrip drives a plain absolute-form GET through the
// proxy to a real origin and checks the response body and the Via header
// the filter chain's step 6-7 hop-by-hop/Via rewrite adds.
func TestProxyPlainHTTPRoundTrip(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The proxy's hop-by-hop/Via rewrite (handleRequest steps 6-7) runs
		// on the forwarded request, so the origin - not the client - is
		// where the added Via header shows up.
		w.Header().Set("X-Seen-Via", r.Header.Get("Via"))
		w.Write([]byte("hello from origin"))
	}))
	defer origin.Close()

	opts := proxyserver.DefaultOptions()
	opts.ClientSide = proxyserver.PlainClientSide()
	p := startTestProxy(t, opts)

	client := proxyClient(t, p.BoundAddress(), nil)
	resp, err := client.Get(origin.URL)
	if err != nil {
		t.Fatalf("GET through proxy: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if via := resp.Header.Get("X-Seen-Via"); via == "" {
		t.Errorf("origin never saw a Via header on the forwarded request")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "hello from origin" {
		t.Errorf("body = %q, want %q", body, "hello from origin")
	}
}

// TestProxyCloseDelimitedResponseBecomesChunked exercises
// normalizeCloseDelimitedResponse: an origin that answers with neither
// Content-Length nor Transfer-Encoding and then closes the connection must
// still be readable in full by an HTTP/1.1 client talking to the proxy.
func TestProxyCloseDelimitedResponseBecomesChunked(t *testing.T) {
	const body = "this body has no Content-Length and the origin just hangs up"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				_, _ = c.Read(buf) // drain the request line/headers
				io.WriteString(c, "HTTP/1.1 200 OK\r\n\r\n"+body)
			}(c)
		}
	}()

	opts := proxyserver.DefaultOptions()
	opts.ClientSide = proxyserver.PlainClientSide()
	p := startTestProxy(t, opts)

	client := proxyClient(t, p.BoundAddress(), nil)
	resp, err := client.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET through proxy: %v", err)
	}
	defer resp.Body.Close()

	if len(resp.TransferEncoding) == 0 || resp.TransferEncoding[0] != "chunked" {
		t.Errorf("TransferEncoding = %v, want [chunked]", resp.TransferEncoding)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != body {
		t.Errorf("body = %q, want %q", got, body)
	}
}

// fixedResolver always resolves to target, standing in for DNS so a CONNECT
// to an arbitrary test hostname lands on the loopback origin server.
type fixedResolver struct{ target net.Addr }

func (f fixedResolver) Resolve(context.Context, string, int) (net.Addr, error) {
	return f.target, nil
}

// TestProxyConnectMitmRoundTrip drives a CONNECT to a synthetic hostname
// through the proxy with MITM enabled: the proxy terminates TLS toward the
// client with a leaf certificate from its own CA, then opens its own TLS
// connection to the real origin and forwards the request/response pair.
func TestProxyConnectMitmRoundTrip(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mitm decrypted: " + r.URL.Path))
	}))
	defer origin.Close()

	ca, err := mitm.NewCA("integration test authority")
	if err != nil {
		t.Fatalf("mitm.NewCA: %v", err)
	}
	manager := mitm.NewManager(ca)
	manager.ClientTLSConfig = &tls.Config{InsecureSkipVerify: true}

	opts := proxyserver.DefaultOptions()
	opts.ClientSide = proxyserver.MitmClientSide(manager)
	opts.Resolver = fixedResolver{target: origin.Listener.Addr()}
	p := startTestProxy(t, opts)

	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)

	client := proxyClient(t, p.BoundAddress(), &tls.Config{RootCAs: pool})
	resp, err := client.Get("https://mitm-test.invalid/widgets")
	if err != nil {
		t.Fatalf("GET through MITM proxy: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "mitm decrypted: /widgets" {
		t.Errorf("body = %q, want %q", body, "mitm decrypted: /widgets")
	}
}

// TestProxyConnectTunnelWithoutMitm checks the plain (non-intercepting)
// CONNECT path: the proxy never touches the TLS bytes, so the client
// handshakes directly against the origin's own certificate.
func TestProxyConnectTunnelWithoutMitm(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tunneled"))
	}))
	defer origin.Close()

	opts := proxyserver.DefaultOptions()
	opts.ClientSide = proxyserver.PlainClientSide()
	opts.Resolver = fixedResolver{target: origin.Listener.Addr()}
	p := startTestProxy(t, opts)

	client := proxyClient(t, p.BoundAddress(), &tls.Config{InsecureSkipVerify: true})
	resp, err := client.Get("https://example.com/")
	if err != nil {
		t.Fatalf("GET through tunneled proxy: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "tunneled" {
		t.Errorf("body = %q, want %q", body, "tunneled")
	}
}

// TestProxyAllowMitmFilterForcesPlainTunnel exercises the
// ProxyToServerAllowMitm hook: a filter returning false must force a plain
// tunnel even though MITM is configured.
type denyMitmFilters struct{ ports.NoOpFilters }

func (denyMitmFilters) ProxyToServerAllowMitm() bool { return false }

type denyMitmFiltersSource struct{}

func (denyMitmFiltersSource) FilterRequest(context.Context, *http.Request) ports.HttpFilters {
	return denyMitmFilters{}
}

func TestProxyAllowMitmFilterForcesPlainTunnel(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain tunnel despite mitm config"))
	}))
	defer origin.Close()

	ca, err := mitm.NewCA("integration test authority")
	if err != nil {
		t.Fatalf("mitm.NewCA: %v", err)
	}
	manager := mitm.NewManager(ca)
	manager.ClientTLSConfig = &tls.Config{InsecureSkipVerify: true}

	opts := proxyserver.DefaultOptions()
	opts.ClientSide = proxyserver.MitmClientSide(manager)
	opts.Resolver = fixedResolver{target: origin.Listener.Addr()}
	opts.FiltersSource = denyMitmFiltersSource{}
	p := startTestProxy(t, opts)

	// The client trusts only the origin's real (self-signed) certificate,
	// not the MITM CA - if the proxy tried to intercept, the handshake
	// would fail against this client config.
	pool := x509.NewCertPool()
	pool.AddCert(origin.Certificate())
	client := proxyClient(t, p.BoundAddress(), &tls.Config{RootCAs: pool})

	resp, err := client.Get("https://example.com/")
	if err != nil {
		t.Fatalf("GET through forced-plain tunnel: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "plain tunnel despite mitm config" {
		t.Errorf("body = %q, want %q", body, "plain tunnel despite mitm config")
	}
}
