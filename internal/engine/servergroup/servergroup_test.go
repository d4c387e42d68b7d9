package servergroup

import (
	"context"
	"testing"
)

type memberStub struct{ name string }

func (m memberStub) Name() string { return m.name }

func TestNewAppliesDefaults(t *testing.T) {
	g := New(Options{})
	if g.Name != "relay" {
		t.Errorf("expected default name %q, got %q", "relay", g.Name)
	}
	if g.Acceptor == nil || g.ClientWorkers == nil || g.ServerWorkers == nil {
		t.Error("expected New to build all three event-loop pools")
	}
}

func TestRegisterFailsAfterStopped(t *testing.T) {
	g := New(Options{Name: "test"})
	if err := g.Shutdown(context.Background(), false); err != nil {
		t.Fatalf("unexpected error shutting down: %v", err)
	}

	if err := g.Register(memberStub{name: "p1"}); err == nil {
		t.Error("expected Register to fail once the group has been shut down")
	}
}

func TestUnregisterAutoStopsOnLastMember(t *testing.T) {
	g := New(Options{Name: "test", AutoStopOnLastUnregister: true})
	p := memberStub{name: "p1"}
	if err := g.Register(p); err != nil {
		t.Fatalf("unexpected error registering: %v", err)
	}

	g.Unregister(p, false)

	if !g.Stopped() {
		t.Error("expected the group to auto-shut-down once the last member unregistered")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	g := New(Options{Name: "test"})
	if err := g.Shutdown(context.Background(), false); err != nil {
		t.Fatalf("unexpected error on first shutdown: %v", err)
	}
	if err := g.Shutdown(context.Background(), false); err != nil {
		t.Fatalf("expected a second Shutdown call to be a no-op, got: %v", err)
	}
}
