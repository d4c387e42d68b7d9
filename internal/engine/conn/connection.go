package conn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/engine/eventloop"
)

// Loop is the naming/diagnostics handle a connection is bound to (spec
// section 5). Aliased here so callers outside engine/eventloop don't need a
// second import.
type Loop = eventloop.Loop

// ClientConnection is the shutdown-path view of a live client connection
// that proxyserver.Proxy's channel registry needs: drain-or-close semantics
// for graceful vs. immediate Stop (spec section 5).
type ClientConnection interface {
	AwaitDrainOrClose(ctx context.Context)
	CloseNow()
}

// proxyConnection is the shared state-machine fields every half of a
// proxied flow carries, per design note 9 ("a single state-machine driver
// plus two role-specific behavior tables"). ClientToProxyConnection and
// ProxyToServerConnection each embed it.
type proxyConnection struct {
	mu    sync.Mutex
	state domain.ConnState

	closeOnce sync.Once
	closed    chan struct{}
}

func newProxyConnection() proxyConnection {
	return proxyConnection{state: domain.AwaitingInitial, closed: make(chan struct{})}
}

// transition enforces the state diagram in spec section 4.3. An illegal
// transition is a FatalError per spec section 7 ("internal invariant
// violation").
func (c *proxyConnection) transition(next domain.ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransitionTo(next) {
		return &domain.FatalError{
			Invariant: fmt.Sprintf("illegal transition %s -> %s", c.state, next),
		}
	}
	c.state = next
	return nil
}

func (c *proxyConnection) currentState() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *proxyConnection) markClosed() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *proxyConnection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *proxyConnection) awaitClosed(ctx context.Context) {
	select {
	case <-c.closed:
	case <-ctx.Done():
	}
}

func setIdleDeadline(nc net.Conn, timeout time.Duration) {
	if timeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(timeout))
	}
}
