// Package servergroup implements the process-wide resource holder described
// in spec section 4.1: the acceptor, client-to-proxy worker, and
// proxy-to-server worker event-loop pools, shared across every Proxy
// instance that registers with the same ServerGroup.
package servergroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaycore/relay/internal/engine/eventloop"
	"github.com/relaycore/relay/internal/logger"
)

const (
	DefaultAcceptorThreads = 2
	DefaultClientThreads   = 8
	DefaultServerThreads   = 8

	gracefulDrainBound = 10 * time.Second
)

// ErrStopped is returned by Register (and by anything that tries to start a
// new proxy) once the ServerGroup has been shut down.
var ErrStopped = errors.New("servergroup: stopped")

// Member is the subset of proxyserver.Proxy that ServerGroup needs in order
// to drive an auto-stop shutdown; kept minimal to avoid an import cycle.
type Member interface {
	Name() string
}

// ServerGroup is the (name, acceptorPool, clientWorkerPool, serverWorkerPool,
// registeredProxies, stopped, autoStopOnLastUnregister) record from spec
// section 3.
type ServerGroup struct {
	Name string

	Acceptor      *eventloop.Pool
	ClientWorkers *eventloop.Pool
	ServerWorkers *eventloop.Pool

	autoStopOnLastUnregister bool
	logger                   *logger.StyledLogger

	mu         sync.Mutex
	registered map[Member]struct{}
	stopped    bool
}

type Options struct {
	Name                     string
	AcceptorThreads          int
	ClientThreads            int
	ServerThreads            int
	AutoStopOnLastUnregister bool
	Logger                   *logger.StyledLogger
}

func New(opts Options) *ServerGroup {
	if opts.Name == "" {
		opts.Name = "relay"
	}
	if opts.AcceptorThreads <= 0 {
		opts.AcceptorThreads = DefaultAcceptorThreads
	}
	if opts.ClientThreads <= 0 {
		opts.ClientThreads = DefaultClientThreads
	}
	if opts.ServerThreads <= 0 {
		opts.ServerThreads = DefaultServerThreads
	}
	return &ServerGroup{
		Name:                     opts.Name,
		Acceptor:                 eventloop.NewPool(opts.Name, "acceptor", opts.AcceptorThreads),
		ClientWorkers:            eventloop.NewPool(opts.Name, "client", opts.ClientThreads),
		ServerWorkers:            eventloop.NewPool(opts.Name, "server", opts.ServerThreads),
		autoStopOnLastUnregister: opts.AutoStopOnLastUnregister,
		logger:                   opts.Logger,
		registered:               make(map[Member]struct{}),
	}
}

// Register adds proxy to the registered set. It fails once the group has
// been shut down - "starting a proxy after shutdown fails with IllegalState"
// (spec section 4.1).
func (g *ServerGroup) Register(proxy Member) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return fmt.Errorf("%w: cannot register proxy %q", ErrStopped, proxy.Name())
	}
	g.registered[proxy] = struct{}{}
	return nil
}

// Unregister removes proxy from the registered set. If autoStop is enabled
// and the set becomes empty, Shutdown(graceful) is triggered. Concurrent
// unregister calls after shutdown are no-ops (spec section 4.1).
func (g *ServerGroup) Unregister(proxy Member, graceful bool) {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	delete(g.registered, proxy)
	empty := len(g.registered) == 0
	autoStop := g.autoStopOnLastUnregister
	g.mu.Unlock()

	if empty && autoStop {
		_ = g.Shutdown(context.Background(), graceful)
	}
}

// Shutdown is idempotent. If graceful, it allows up to 10s for in-flight
// channels to drain (spec section 4.1 "awaits in-flight channels if graceful
// (bounded by 10s)"), then terminates all three pools with a
// quietPeriod/timeout pattern.
func (g *ServerGroup) Shutdown(ctx context.Context, graceful bool) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	g.mu.Unlock()

	quiet := time.Duration(0)
	timeout := time.Second
	if graceful {
		quiet = gracefulDrainBound / 2
		timeout = gracefulDrainBound
	}

	var errs []error
	for _, p := range []*eventloop.Pool{g.Acceptor, g.ClientWorkers, g.ServerWorkers} {
		if err := p.Shutdown(ctx, quiet, timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if g.logger != nil {
		g.logger.Info("ServerGroup shut down", "name", g.Name, "graceful", graceful, "errors", len(errs))
	}
	return errors.Join(errs...)
}

// Stopped reports whether Shutdown has already run.
func (g *ServerGroup) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
