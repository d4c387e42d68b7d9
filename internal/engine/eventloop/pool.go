package eventloop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool is a named group of Loops, e.g. the acceptor pool, the
// client-to-proxy worker pool, or the proxy-to-server worker pool described
// in spec section 4.1. Pools are shared across every Proxy instance
// registered with the same ServerGroup (spec section 5 "Shared resources").
type Pool struct {
	role  string
	loops []*Loop
	next  uint64
}

// NewPool creates n Loops named "<proxyName>-<role>-<i>", matching spec
// section 4.1's thread naming convention.
func NewPool(proxyName, role string, n int) *Pool {
	if n <= 0 {
		n = 1
	}
	loops := make([]*Loop, n)
	for i := range loops {
		loops[i] = newLoop(fmt.Sprintf("%s-%s-%d", proxyName, role, i))
	}
	return &Pool{role: role, loops: loops}
}

// Next assigns the next Loop in round-robin order. Called once, at
// accept/creation time, to permanently bind a connection to a Loop.
func (p *Pool) Next() *Loop {
	i := atomic.AddUint64(&p.next, 1) - 1
	return p.loops[i%uint64(len(p.loops))]
}

// Size reports the number of loops in the pool.
func (p *Pool) Size() int { return len(p.loops) }

// Shutdown stops every loop in the pool and waits, in total up to timeout
// (checked first at quietPeriod), for each loop to drain its queue and
// exit - the quietPeriod/timeout shutdown pattern spec section 4.1 calls
// out for the underlying event-loop group. A loop still running at timeout
// is not terminated; Shutdown returns an error naming it.
func (p *Pool) Shutdown(ctx context.Context, quietPeriod, timeout time.Duration) error {
	for _, l := range p.loops {
		l.stop()
	}
	g, _ := errgroup.WithContext(ctx)
	for _, l := range p.loops {
		l := l
		g.Go(func() error {
			wait := timeout
			if quietPeriod > 0 && quietPeriod < timeout {
				wait = quietPeriod
			}
			if l.awaitStop(wait) {
				return nil
			}
			if l.awaitStop(timeout - wait) {
				return nil
			}
			return fmt.Errorf("eventloop %s: did not stop within %s", l.Name(), timeout)
		})
	}
	return g.Wait()
}
