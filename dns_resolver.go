package cfsync

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const googleMyAddr = "o-o.myaddr.l.google.com."

var googleNameservers = map[Family]string{
	IPv4: "216.239.32.10:53",
	IPv6: "[2001:4860:4802:32::a]:53",
}

// DNSResolver constructs a resolver that asks Google's authoritative nameservers for the caller's address.
// ns1.google.com answers a TXT query for o-o.myaddr.l.google.com with the address the query came from,
// so the query is sent over udp4 or udp6 to match family.
func DNSResolver(family Family) Resolver {
	return &dnsResolver{
		family: family,
		server: googleNameservers[family],
		name:   googleMyAddr,
	}
}

type dnsResolver struct {
	family Family
	server string
	name   string
}

func (r *dnsResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	if r.server == "" {
		return nil, fmt.Errorf("no nameserver for family %s", r.family)
	}
	network := "udp4"
	if r.family == IPv6 {
		network = "udp6"
	}
	c := &dns.Client{Net: network, Timeout: 5 * time.Second}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(r.name), dns.TypeTXT)
	resp, _, err := c.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("dns query to %s failed: %w", r.server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query to %s returned %s", r.server, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		for _, s := range txt.Txt {
			a, err := netip.ParseAddr(strings.TrimSpace(s))
			if err != nil {
				continue
			}
			if a = a.Unmap(); r.family.Contains(a) {
				return []netip.Addr{a}, nil
			}
		}
	}
	return nil, errors.New("no address in TXT answer")
}
