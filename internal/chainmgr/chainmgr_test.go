package chainmgr

import (
	"context"
	"testing"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

func TestStaticLookupRoundRobinsAndAppendsFallback(t *testing.T) {
	s := NewStatic([]Upstream{
		{Name: "a", Address: "127.0.0.1:1111"},
		{Name: "b", Address: "127.0.0.1:2222"},
	}, true)

	first, err := s.Lookup(context.Background(), "GET", "example.com:80", domain.FlowContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 2 upstreams + fallback, got %d", len(first))
	}
	if first[len(first)-1] != ports.FallbackToDirect {
		t.Error("expected the last candidate to be the fallback-to-direct sentinel")
	}

	second, err := s.Lookup(context.Background(), "GET", "example.com:80", domain.FlowContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first[0].Name() == second[0].Name() {
		t.Error("expected round-robin to rotate the starting candidate between lookups")
	}
}

func TestStaticLookupNoUpstreamsReturnsEmptyQueue(t *testing.T) {
	s := NewStatic(nil, true)
	queue, err := s.Lookup(context.Background(), "GET", "example.com:80", domain.FlowContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue != nil {
		t.Errorf("expected a nil queue when no upstreams are configured, got %v", queue)
	}
}

func TestStaticLookupWithoutAllowDirectOmitsFallback(t *testing.T) {
	s := NewStatic([]Upstream{{Name: "a", Address: "127.0.0.1:1111"}}, false)
	queue, err := s.Lookup(context.Background(), "GET", "example.com:80", domain.FlowContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range queue {
		if c == ports.FallbackToDirect {
			t.Error("did not expect a fallback-to-direct candidate when AllowDirect is false")
		}
	}
}

func TestCandidateForwardsConnect(t *testing.T) {
	s := NewStatic([]Upstream{{Name: "a", Address: "127.0.0.1:1111", ForwardsConnect: true}}, false)
	queue, _ := s.Lookup(context.Background(), "CONNECT", "example.com:443", domain.FlowContext{})
	if !queue[0].ForwardsConnect() {
		t.Error("expected candidate.ForwardsConnect to reflect Upstream.ForwardsConnect")
	}
}
