package resolver

import (
	"context"
	"net"
	"testing"
)

func TestPlainResolveReturnsAddressWithPort(t *testing.T) {
	p := NewPlain()
	addr, err := p.Resolve(context.Background(), "localhost", 8080)
	if err != nil {
		t.Fatalf("unexpected error resolving localhost: %v", err)
	}
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("expected *net.TCPAddr, got %T", addr)
	}
	if tcpAddr.Port != 8080 {
		t.Errorf("expected port 8080, got %d", tcpAddr.Port)
	}
}

func TestNewDNSSECFallsBackToDefaultForwarders(t *testing.T) {
	d := NewDNSSEC(nil)
	if len(d.Forwarders) != len(DefaultForwarders) {
		t.Fatalf("expected %d default forwarders, got %d", len(DefaultForwarders), len(d.Forwarders))
	}
}

func TestNewDNSSECKeepsExplicitForwarders(t *testing.T) {
	custom := []string{"10.0.0.1:53"}
	d := NewDNSSEC(custom)
	if len(d.Forwarders) != 1 || d.Forwarders[0] != "10.0.0.1:53" {
		t.Errorf("expected explicit forwarders to be preserved, got %v", d.Forwarders)
	}
}
