package proxyserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
	"github.com/relaycore/relay/internal/engine/codec"
	"github.com/relaycore/relay/internal/engine/conn"
	"github.com/relaycore/relay/internal/engine/servergroup"
	"github.com/relaycore/relay/internal/logger"
)

// Proxy is one bound listen socket and its mutable runtime state, per spec
// section 3: "immutable configuration plus mutable boundAddress,
// idleConnectionTimeout, connectTimeout, traffic-shaper handle,
// activity-tracker collection, channel registry, stopped flag".
type Proxy struct {
	opts  Options
	group *servergroup.ServerGroup
	log   *logger.StyledLogger

	mu              sync.RWMutex
	boundAddress    net.Addr
	listener        net.Listener
	idleTimeout     time.Duration
	connectTimeout  time.Duration
	shaper          *codec.TrafficShaper
	trackers        []ports.ActivityTracker
	channels        *channelRegistry
	stopped         bool

	idSeq domain.ConnectionIDSequence
}

// New constructs a Proxy bound to group but not yet listening. Call Start to
// bind the socket and begin accepting.
func New(opts Options, group *servergroup.ServerGroup, log *logger.StyledLogger) *Proxy {
	opts = opts.Normalize()
	return &Proxy{
		opts:           opts,
		group:          group,
		log:            log,
		idleTimeout:    opts.IdleConnectionTimeout,
		connectTimeout: opts.ConnectTimeout,
		shaper:         codec.NewTrafficShaper(opts.ReadBytesPerSec, opts.WriteBytesPerSec),
		channels:       newChannelRegistry(),
	}
}

// Name implements servergroup.Member.
func (p *Proxy) Name() string { return p.opts.Name }

// AddActivityTracker registers a tracker; all trackers receive every hook
// (spec section 4.7).
func (p *Proxy) AddActivityTracker(t ports.ActivityTracker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trackers = append(p.trackers, t)
}

func (p *Proxy) trackerList() []ports.ActivityTracker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ports.ActivityTracker, len(p.trackers))
	copy(out, p.trackers)
	return out
}

// Start binds the listen socket and begins accepting connections on the
// ServerGroup's acceptor pool, per spec section 4.1/4.4.
func (p *Proxy) Start() error {
	if err := p.group.Register(p); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", p.opts.Address, p.opts.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("proxyserver: listen %s: %w", addr, err)
	}
	if p.opts.AcceptProxyProtocol {
		l = codec.AcceptProxyProtocol(l, 5*time.Second)
	}

	p.mu.Lock()
	p.listener = l
	p.boundAddress = l.Addr()
	p.mu.Unlock()

	if p.log != nil {
		p.log.Info("proxy listening", "name", p.opts.Name, "address", l.Addr().String())
	}

	p.group.Acceptor.Next().Submit(p.acceptLoop)
	return nil
}

func (p *Proxy) acceptLoop() {
	for {
		c, err := p.listener.Accept()
		if err != nil {
			if p.Stopped() {
				return
			}
			if p.log != nil {
				p.log.Warn("accept failed", "error", err)
			}
			continue
		}
		if p.opts.AllowLocalOnly && !isLoopbackOrLinkLocal(c.RemoteAddr()) {
			// Open Question resolution (SPEC_FULL.md section 5.3): enforced
			// at accept time against the peer's remote address.
			_ = c.Close()
			continue
		}
		loop := p.group.ClientWorkers.Next()
		id := p.idSeq.Next()
		// The connection's control-flow (state transitions, filter calls)
		// is nominally bound to loop for naming and ordering discipline
		// (spec section 5); the actual blocking I/O runs on its own
		// goroutine since net.Conn exposes no non-blocking readiness API
		// without reimplementing the platform poller.
		go p.handleClient(c, id, loop)
	}
}

func (p *Proxy) handleClient(c net.Conn, id domain.ConnectionID, loop *conn.Loop) {
	handler := conn.NewClientToProxyConnection(conn.ClientDeps{
		Conn:           c,
		ConnectionID:   id,
		Loop:           loop,
		ServerWorkers:  p.group.ServerWorkers,
		Options:        p.toConnOptions(),
		Shaper:         p.shaper,
		Trackers:       p.trackerList(),
		ChannelAdd:     p.channels.add,
		ChannelRemove:  p.channels.remove,
		Logger:         p.log,
	})
	p.channels.add(handler)
	handler.Run()
}

func (p *Proxy) toConnOptions() conn.Options {
	return conn.Options{
		ClientSideKind:              int(p.opts.ClientSide.Kind),
		SslEngineSource:             p.opts.ClientSide.EngineSource,
		MitmManager:                 p.opts.ClientSide.Mitm,
		AuthenticateSslClients:      p.opts.AuthenticateSslClients,
		ProxyAuthenticator:          p.opts.ProxyAuthenticator,
		ChainProxyManager:           p.opts.ChainProxyManager,
		FiltersSource:               p.opts.FiltersSource,
		Transparent:                 p.opts.Transparent,
		IdleConnectionTimeout:       p.idleTimeout,
		ConnectTimeout:              p.connectTimeout,
		MaxInitialLineLength:        p.opts.MaxInitialLineLength,
		MaxHeaderSize:               p.opts.MaxHeaderSize,
		MaxChunkSize:                p.opts.MaxChunkSize,
		AllowRequestsToOriginServer: p.opts.AllowRequestsToOriginServer,
		ProxyAlias:                  p.opts.ProxyAlias,
		SendProxyProtocol:           p.opts.SendProxyProtocol,
		Resolver:                    p.opts.Resolver,
	}
}

// BoundAddress returns the live listen address once Start has succeeded.
func (p *Proxy) BoundAddress() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.boundAddress
}

// Stopped reports whether Stop/Abort has already run.
func (p *Proxy) Stopped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stopped
}

// Stop stops accepting new connections; if graceful it waits up to 10s for
// open channels to drain before closing them (spec section 5: "stop(true)
// stops accepting new connections, waits up to 10s for open channels to
// drain, then closes them").
func (p *Proxy) Stop(graceful bool) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	l := p.listener
	p.mu.Unlock()

	if l != nil {
		_ = l.Close()
	}

	deadline := time.Duration(0)
	if graceful {
		deadline = 10 * time.Second
	}
	p.channels.drain(deadline)

	p.group.Unregister(p, graceful)
	return nil
}

// Abort is Stop(false): closes immediately, no drain.
func (p *Proxy) Abort() error { return p.Stop(false) }

// Clone produces an independent Proxy sharing the same ServerGroup (spec
// section 8: "Cloning a running proxy yields an independent instance
// sharing the ServerGroup; stopping one does not stop the other"). Per the
// Open Question in spec section 9, the cloned port is incremented by one
// when the original port is non-zero; concurrent clones may race on port
// selection exactly as the source this was distilled from does.
func (p *Proxy) Clone() *Proxy {
	opts := p.opts
	if opts.Port != 0 {
		opts.Port++
	}
	return New(opts, p.group, p.log)
}

func isLoopbackOrLinkLocal(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	return tcp.IP.IsLoopback() || tcp.IP.IsLinkLocalUnicast()
}

// channelRegistry is the append-only-from-accept, drained-from-shutdown
// channel group named in spec section 5 ("the channel group is append-only
// from the accept path and drained from the shutdown path; add/remove are
// thread-safe").
type channelRegistry struct {
	mu       sync.Mutex
	channels map[conn.ClientConnection]struct{}
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[conn.ClientConnection]struct{})}
}

func (r *channelRegistry) add(c conn.ClientConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c] = struct{}{}
}

func (r *channelRegistry) remove(c conn.ClientConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, c)
}

func (r *channelRegistry) drain(graceTimeout time.Duration) {
	r.mu.Lock()
	open := make([]conn.ClientConnection, 0, len(r.channels))
	for c := range r.channels {
		open = append(open, c)
	}
	r.mu.Unlock()

	if graceTimeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), graceTimeout)
		defer cancel()
		var wg sync.WaitGroup
		for _, c := range open {
			wg.Add(1)
			go func(c conn.ClientConnection) {
				defer wg.Done()
				c.AwaitDrainOrClose(ctx)
			}(c)
		}
		wg.Wait()
		return
	}

	for _, c := range open {
		c.CloseNow()
	}
}
