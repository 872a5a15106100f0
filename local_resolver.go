package cfsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// InterfaceResolver constructs a resolver that returns the globally routable addresses of the given interfaces.
// If no interfaces are provided then all interfaces will be used.
//
// Loopback, link-local and private addresses are always skipped,
// so on a host behind NAT this resolver usually only finds IPv6 addresses.
func InterfaceResolver(iface ...string) Resolver {
	return interfaceResolver{ifaces: iface}
}

type interfaceResolver struct {
	ifaces []string
}

func (r interfaceResolver) Resolve(ctx context.Context) (addrs []netip.Addr, err error) {
	if len(r.ifaces) == 0 {
		all, err := net.InterfaceAddrs()
		if err != nil {
			return nil, fmt.Errorf("error getting interface addresses: %w", err)
		}
		return publicAddrs(all)
	}

	var errs []error
	for _, ifs := range r.ifaces {
		iface, err := net.InterfaceByName(ifs)
		if err != nil {
			errs = append(errs, fmt.Errorf("error getting interface %s by name: %w", ifs, err))
			continue
		}
		a, err := iface.Addrs()
		if err != nil {
			errs = append(errs, fmt.Errorf("error looking up addresses for interface %s: %w", ifs, err))
			continue
		}
		found, err := publicAddrs(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("interface %s: %w", ifs, err))
		}
		addrs = append(addrs, found...)
	}
	return addrs, errors.Join(errs...)
}

// addr: ip+net:192.168.86.253/24
// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
func publicAddrs(in []net.Addr) (addrs []netip.Addr, err error) {
	var parseErrors []error
	for _, addr := range in {
		p, err := netip.ParsePrefix(addr.String())
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("error parsing local ip %s: %s", addr.String(), err))
			continue
		}
		if a := p.Addr().Unmap(); isPublic(a) {
			addrs = append(addrs, a)
		}
	}
	return addrs, errors.Join(parseErrors...)
}

func isPublic(a netip.Addr) bool {
	return a.IsGlobalUnicast() && !a.IsPrivate()
}
