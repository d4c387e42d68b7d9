// Package chainmgr implements the default ports.ChainedProxyManager and its
// ChainCandidate queue bookkeeping (spec section 4.5). It is grounded on the
// teacher's internal/adapter/balancer round-robin selector, generalised
// from choosing one endpoint per request into producing an ordered
// candidate queue a ProxyToServerConnection walks on dial failure.
package chainmgr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/relaycore/relay/internal/core/domain"
	"github.com/relaycore/relay/internal/core/ports"
)

// Upstream is one configured upstream proxy hop.
type Upstream struct {
	Name            string
	Address         string // host:port
	RequiresTLS     bool
	TLSConfig       *tls.Config
	ForwardsConnect bool
}

// Static is a ChainedProxyManager that cycles through a fixed list of
// Upstreams in round-robin order, then falls back to direct, per the
// ports.FallbackToDirect sentinel (spec section 4.5 step 1).
type Static struct {
	upstreams   []Upstream
	counter     uint64
	allowDirect bool
}

func NewStatic(upstreams []Upstream, allowDirect bool) *Static {
	return &Static{upstreams: upstreams, allowDirect: allowDirect}
}

func (s *Static) Lookup(ctx context.Context, method, targetHostAndPort string, client domain.FlowContext) ([]ports.ChainCandidate, error) {
	if len(s.upstreams) == 0 {
		return nil, nil
	}
	start := atomic.AddUint64(&s.counter, 1) - 1
	n := uint64(len(s.upstreams))
	queue := make([]ports.ChainCandidate, 0, len(s.upstreams)+1)
	for i := uint64(0); i < n; i++ {
		u := s.upstreams[(start+i)%n]
		queue = append(queue, &candidate{upstream: u})
	}
	if s.allowDirect {
		queue = append(queue, ports.FallbackToDirect)
	}
	return queue, nil
}

// candidate adapts an Upstream into ports.ChainCandidate. ConnectionFailed
// and ConnectionSucceeded are observational counters only; a richer
// implementation could feed a circuit breaker (see internal/mitm's sibling
// concerns) but the core contract requires only that each hook fire at most
// once per dial attempt.
type candidate struct {
	upstream Upstream
	failures atomic.Int64
}

func (c *candidate) Name() string { return c.upstream.Name }

func (c *candidate) ChainedProxyAddress(ctx context.Context) (net.Addr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", c.upstream.Address)
	if err != nil {
		return nil, fmt.Errorf("chainmgr: resolve upstream %s: %w", c.upstream.Name, err)
	}
	return tcpAddr, nil
}

func (c *candidate) RequiresEncryption() bool { return c.upstream.RequiresTLS }

func (c *candidate) NewSSLEngine() (ports.TLSConfigFactory, error) {
	cfg := c.upstream.TLSConfig
	return func() (*tls.Config, error) { return cfg, nil }, nil
}

func (c *candidate) ForwardsConnect() bool { return c.upstream.ForwardsConnect }

func (c *candidate) ConnectionFailed(err error) { c.failures.Add(1) }

func (c *candidate) ConnectionSucceeded() {}
