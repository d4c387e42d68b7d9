package filter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaycore/relay/internal/core/ports"
)

type shortCircuitFilter struct {
	ports.NoOpFilters
	status int
}

func (f shortCircuitFilter) ClientToProxyRequest(*http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: f.status}, nil
}

type headerStampingFilter struct {
	ports.NoOpFilters
}

func (headerStampingFilter) ProxyToClientResponse(resp *http.Response) (*http.Response, error) {
	resp.Header.Set("X-Stamped", "yes")
	return resp, nil
}

func TestChainShortCircuitsOnFirstMatch(t *testing.T) {
	c := NewChain(nil, shortCircuitFilter{status: http.StatusForbidden}, shortCircuitFilter{status: http.StatusTeapot})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	resp, err := c.ClientToProxyRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected the first member's response to win, got %+v", resp)
	}
}

func TestChainPropagatesMutation(t *testing.T) {
	c := NewChain(nil, headerStampingFilter{})

	resp := &http.Response{Header: make(http.Header)}
	out, err := c.ProxyToClientResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Header.Get("X-Stamped") != "yes" {
		t.Error("expected the chain to propagate the member's mutation")
	}
}

func TestSourceBuildsFreshChainPerRequest(t *testing.T) {
	calls := 0
	src := NewSource(nil, func() ports.HttpFilters {
		calls++
		return ports.NoOpFilters{}
	})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	_ = src.FilterRequest(context.Background(), req)
	_ = src.FilterRequest(context.Background(), req)

	if calls != 2 {
		t.Errorf("expected one builder invocation per FilterRequest call, got %d", calls)
	}
}

func TestChainWithNoMembersIsANoOp(t *testing.T) {
	c := NewChain(nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	resp, err := c.ClientToProxyRequest(req)
	if resp != nil || err != nil {
		t.Errorf("expected an empty chain to pass through, got resp=%v err=%v", resp, err)
	}
	if !c.ProxyToServerAllowMitm() {
		t.Error("expected an empty chain to allow MITM by default")
	}
}
