package domain

import "sync/atomic"

// ConnectionID identifies a client-to-proxy connection for the lifetime of
// that TCP connection. It is monotonic per Proxy instance and is the only
// field FlowContext equality/hashing is based on.
type ConnectionID uint64

// ConnectionIDSequence hands out monotonically increasing ConnectionIDs for
// one Proxy instance. Proxy clones (see proxyserver.Proxy.Clone) each get
// their own sequence.
type ConnectionIDSequence struct {
	counter uint64
}

func (s *ConnectionIDSequence) Next() ConnectionID {
	return ConnectionID(atomic.AddUint64(&s.counter, 1))
}

// HostPort is the normalised "host:port" key used to index reusable
// proxy-to-server connections on a client connection, and to look up
// chained-proxy candidates.
type HostPort string
