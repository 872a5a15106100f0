package cfsync

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultWebServices answer a plain GET with the caller's address.
// Each one is queried over the matching IP stack.
var DefaultWebServices = map[Family][]string{
	IPv4: {
		"https://ipv4.icanhazip.com/",
		"https://api.ipify.org/",
		"https://checkip.amazonaws.com/",
	},
	IPv6: {
		"https://ipv6.icanhazip.com/",
		"https://api6.ipify.org/",
	},
}

// WebResolver constructs a resolver which uses external web services to look up the public address of family.
//
// Each serviceURL must speak http and return status "200 OK",
// with a valid IP address as the first line of the response body.
// All other responses are considered an error,
// as is an address that does not belong to family.
//
// All services are queried concurrently and the first good answer wins.
// Unless a custom client is set with UsingHTTPClient,
// connections are dialed over tcp4 or tcp6 to match family,
// so a dual-stack host reports the right address for each one.
// A zero family accepts either kind of address over any stack.
func WebResolver(family Family, serviceURL ...string) (Resolver, error) {
	if len(serviceURL) == 0 {
		return nil, errors.New("no external IP lookup services were provided")
	}
	var URLs []*url.URL
	for _, u := range serviceURL {
		pu, err := url.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("error parsing URL: %w", err)
		}
		URLs = append(URLs, pu)
	}
	return &webResolver{family: family, serviceURLs: URLs, httpClient: familyClient(family)}, nil
}

type webResolver struct {
	family      Family
	httpClient  *http.Client
	serviceURLs []*url.URL
}

func (wr *webResolver) SetHTTPClient(c *http.Client) {
	if c == nil {
		c = familyClient(wr.family)
	}
	wr.httpClient = c
}

// Resolve implements cfsync.Resolver.
func (wr *webResolver) Resolve(ctx context.Context) ([]netip.Addr, error) {
	lookups := make([]Resolver, 0, len(wr.serviceURLs))
	for _, u := range wr.serviceURLs {
		u := u
		lookups = append(lookups, ResolverFunc(func(ctx context.Context) ([]netip.Addr, error) {
			a, err := wr.lookup(ctx, u)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", u.Host, err)
			}
			return []netip.Addr{a}, nil
		}))
	}
	return FirstOf(lookups...).Resolve(ctx)
}

func (wr *webResolver) lookup(ctx context.Context, url *url.URL) (netip.Addr, error) {
	// 15 seconds is an eternity for the size of the request we're making,
	// but this ensures that all calls to resolve will eventually complete even if the caller supplied context.Background.
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := wr.httpClient.Do(req)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return netip.Addr{}, fmt.Errorf("http request returned %s", resp.Status)
	}

	scanner := bufio.NewReader(resp.Body)
	ipstring, _ := scanner.ReadString('\n')
	ip, err := netip.ParseAddr(strings.TrimSpace(ipstring))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	ip = ip.Unmap()
	if wr.family != 0 && !wr.family.Contains(ip) {
		return netip.Addr{}, fmt.Errorf("expected an %s address; got %s", wr.family, ip)
	}
	return ip, nil
}

func familyClient(f Family) *http.Client {
	t := cleanhttp.DefaultPooledTransport()
	var network string
	switch f {
	case IPv4:
		network = "tcp4"
	case IPv6:
		network = "tcp6"
	}
	if network != "" {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		t.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		}
	}
	return &http.Client{Transport: t}
}
