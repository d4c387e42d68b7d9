package conn

import (
	"context"
	"net"
)

// defaultResolver is the plain net.Resolver-backed HostResolver used when
// Options.Resolver is nil, i.e. useDnsSec is not configured (spec section
// 6: "useDnsSec (false) swaps resolver for DNSSEC-validating one").
type defaultResolver struct{}

func (defaultResolver) Resolve(ctx context.Context, host string, port int) (net.Addr, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no addresses found", Name: host}
	}
	return &net.TCPAddr{IP: ips[0], Port: port}, nil
}
