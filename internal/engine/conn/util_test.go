package conn

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestTargetHostAndPortFromAbsoluteURI(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	hp, err := targetHostAndPort(req, "80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp != "example.com:80" {
		t.Errorf("expected example.com:80, got %s", hp)
	}
}

func TestTargetHostAndPortFromAbsoluteURIWithExplicitPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com:8443/path", nil)
	hp, err := targetHostAndPort(req, "80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp != "example.com:8443" {
		t.Errorf("expected example.com:8443, got %s", hp)
	}
}

func TestTargetHostAndPortFromHostHeader(t *testing.T) {
	req := &http.Request{Method: http.MethodConnect, Host: "example.com:443", URL: mustParseOriginForm()}
	hp, err := targetHostAndPort(req, "80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hp != "example.com:443" {
		t.Errorf("expected example.com:443, got %s", hp)
	}
}

func TestTargetHostAndPortNoAuthorityFails(t *testing.T) {
	req := &http.Request{Method: http.MethodGet, URL: mustParseOriginForm()}
	if _, err := targetHostAndPort(req, "80"); err == nil {
		t.Error("expected an error when neither an absolute URI nor a Host header is present")
	}
}

func TestIsOriginForm(t *testing.T) {
	abs := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	if isOriginForm(abs) {
		t.Error("expected an absolute-URI request not to be origin-form")
	}

	origin := &http.Request{Method: http.MethodGet, URL: mustParseOriginForm()}
	if !isOriginForm(origin) {
		t.Error("expected a request with no scheme/authority to be origin-form")
	}

	connect := &http.Request{Method: http.MethodConnect, URL: mustParseOriginForm()}
	if isOriginForm(connect) {
		t.Error("expected CONNECT requests never to be treated as origin-form")
	}
}

func TestParseBasicAuth(t *testing.T) {
	user, pass, ok := parseBasicAuth("Basic YWxpY2U6c2VjcmV0")
	if !ok {
		t.Fatal("expected a valid Basic header to parse")
	}
	if user != "alice" || pass != "secret" {
		t.Errorf("expected alice/secret, got %s/%s", user, pass)
	}

	if _, _, ok := parseBasicAuth("Bearer sometoken"); ok {
		t.Error("expected a non-Basic scheme to fail parsing")
	}
	if _, _, ok := parseBasicAuth(""); ok {
		t.Error("expected an empty header to fail parsing")
	}
}

func mustParseOriginForm() *url.URL {
	u, err := url.Parse("/path")
	if err != nil {
		panic(err)
	}
	return u
}
