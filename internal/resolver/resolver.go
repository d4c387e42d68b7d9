// Package resolver provides HostResolver implementations: a plain
// net.Resolver-backed default and a DNSSEC-validating resolver selected by
// the useDnsSec bootstrap option (spec section 6). The DNSSEC resolver is
// grounded on the forwarder-list pattern in the teacher-pack's
// HouzuoGuo-laitos daemon/dnsd package, built on github.com/miekg/dns for
// the actual wire queries with the DNSSEC OK bit set, since neither the
// teacher nor net.Resolver exposes DNSSEC.
package resolver

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Plain is the default HostResolver, a thin wrapper over net.Resolver.
type Plain struct {
	Resolver *net.Resolver
}

func NewPlain() *Plain { return &Plain{Resolver: net.DefaultResolver} }

func (p *Plain) Resolve(ctx context.Context, host string, port int) (net.Addr, error) {
	r := p.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	ips, err := r.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolver: no addresses for %s", host)
	}
	return &net.TCPAddr{IP: ips[0], Port: port}, nil
}

// DefaultForwarders mirrors the well-known public recursive resolvers the
// teacher-pack's dnsd package ships as its own DefaultForwarders list.
var DefaultForwarders = []string{
	"9.9.9.9:53",
	"149.112.112.112:53",
	"1.1.1.1:53",
	"8.8.8.8:53",
}

// DNSSEC is a HostResolver that queries Forwarders with the DNSSEC OK bit
// set and accepts an answer only when the forwarder marks it authenticated
// (the AD bit). Validation is left to the forwarder: this resolver does not
// verify RRSIG/DNSKEY records itself.
type DNSSEC struct {
	Forwarders []string
	Client     *dns.Client
}

func NewDNSSEC(forwarders []string) *DNSSEC {
	if len(forwarders) == 0 {
		forwarders = DefaultForwarders
	}
	return &DNSSEC{
		Forwarders: forwarders,
		Client:     &dns.Client{},
	}
}

func (d *DNSSEC) Resolve(ctx context.Context, host string, port int) (net.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.SetEdns0(4096, true) // request DNSSEC OK (DO bit)

	var lastErr error
	for _, fwd := range d.Forwarders {
		resp, _, err := d.Client.ExchangeContext(ctx, msg, fwd)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("resolver: forwarder %s returned rcode %d", fwd, resp.Rcode)
			continue
		}
		if !resp.AuthenticatedData {
			lastErr = fmt.Errorf("resolver: forwarder %s did not authenticate %s", fwd, host)
			continue
		}
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				return &net.TCPAddr{IP: a.A, Port: port}, nil
			}
		}
		lastErr = fmt.Errorf("resolver: no A record for %s", host)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("resolver: no forwarders configured")
	}
	return nil, lastErr
}
