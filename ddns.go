package cfsync

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// New constructs a Client for cfg.
//
// Without UsingProvider, a Cloudflare provider is built from cfg.Credentials.
// Without a resolver option, each family is resolved with the default web services and Google's DNS,
// whichever answers first.
func New(cfg Config, options ...ClientOption) (*Client, error) {
	cfg.Records = cleanRecords(cfg.Records)
	if len(cfg.Records) == 0 {
		return nil, &ConfigurationError{Field: "records", Reason: "at least one record name is required"}
	}
	c := &Client{
		config:  cfg,
		log:     logr.Discard(),
		comment: cfg.Comment,
	}
	if c.comment == "" {
		c.comment = DefaultComment
	}
	for i, opt := range options {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("cfsync.New: option %d returned an error: %w", i, err)
		}
	}

	if c.provider == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cf, err := NewCloudflare(cfg.Credentials, c.cfOptions...)
		if err != nil {
			return nil, fmt.Errorf("cfsync.New: error creating cloudflare DNS provider: %w", err)
		}
		c.provider = cf
	}

	if !c.resolversSet {
		if err := defaultResolvers(c); err != nil {
			return nil, fmt.Errorf("cfsync.New: %w", err)
		}
	}
	fs := cfg.Families()
	if !fs.Has(IPv4) {
		c.v4 = nil
	}
	if !fs.Has(IPv6) {
		c.v6 = nil
	}
	if c.v4 == nil && c.v6 == nil {
		return nil, &ConfigurationError{Field: "resolvers", Reason: "no resolver for any selected address family"}
	}

	// the logger and http client may have been given before the dependencies that use them were registered
	c.propagate()
	return c, nil
}

// ClientOption configures a Client in New.
type ClientOption func(*Client) error

// UsingProvider replaces the Cloudflare provider, e.g. with a fake in tests.
func UsingProvider(p Provider) ClientOption {
	return func(c *Client) error {
		if p == nil {
			return fmt.Errorf("provider cannot be nil")
		}
		c.provider = p
		return nil
	}
}

// UsingCloudflareOptions passes options to the Cloudflare provider built by New.
func UsingCloudflareOptions(opts ...CloudflareOption) ClientOption {
	return func(c *Client) error {
		c.cfOptions = append(c.cfOptions, opts...)
		return nil
	}
}

// UsingResolvers sets the resolver for each family.
// A nil resolver disables that family.
func UsingResolvers(v4, v6 Resolver) ClientOption {
	return func(c *Client) error {
		c.v4, c.v6, c.resolversSet = v4, v6, true
		return nil
	}
}

// UsingResolver uses r for both families; each family takes the first address of its kind.
// A family r does not answer for is absent, so its records are deleted.
// Use UsingAddresses for fixed addresses of only one family.
func UsingResolver(r Resolver) ClientOption {
	return UsingResolvers(r, r)
}

// UsingAddresses resolves each family to the given fixed address.
// A family without an address is disabled rather than absent.
func UsingAddresses(addrs ...string) ClientOption {
	return func(c *Client) error {
		var v4, v6 Resolver
		for _, s := range addrs {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return fmt.Errorf("unable to parse IP: %w", err)
			}
			a = a.Unmap()
			if a.Is4() {
				v4 = staticResolver{a}
			} else {
				v6 = staticResolver{a}
			}
		}
		return UsingResolvers(v4, v6)(c)
	}
}

// UsingWebResolver resolves both families with the given services instead of the defaults.
func UsingWebResolver(serviceURL ...string) ClientOption {
	return func(c *Client) error {
		v4, err := WebResolver(IPv4, serviceURL...)
		if err != nil {
			return err
		}
		v6, err := WebResolver(IPv6, serviceURL...)
		if err != nil {
			return err
		}
		return UsingResolvers(v4, v6)(c)
	}
}

func WithLogger(log logr.Logger) ClientOption {
	return func(c *Client) error {
		if log.GetSink() == nil {
			log = logr.Discard()
		}
		c.log = log
		return nil
	}
}

func UsingHTTPClient(httpclient *http.Client) ClientOption {
	return func(c *Client) error {
		c.httpClient = httpclient
		return nil
	}
}

// WithConcurrency caps the number of concurrent provider calls. Zero means no limit.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("concurrency cannot be negative")
		}
		c.concurrency = n
		return nil
	}
}

func defaultResolvers(c *Client) error {
	for _, f := range []Family{IPv4, IPv6} {
		web, err := WebResolver(f, DefaultWebServices[f]...)
		if err != nil {
			return err
		}
		r := FirstOf(web, DNSResolver(f))
		if f == IPv4 {
			c.v4 = r
		} else {
			c.v6 = r
		}
	}
	return nil
}

func (c *Client) propagate() {
	type setLogger interface {
		SetLogger(logr.Logger)
	}
	type setHTTPClient interface {
		SetHTTPClient(*http.Client)
	}
	if p, ok := c.provider.(setLogger); ok {
		p.SetLogger(c.log.WithName("provider"))
	}
	if c.httpClient == nil {
		return
	}
	if p, ok := c.provider.(setHTTPClient); ok {
		p.SetHTTPClient(c.httpClient)
	}
	for _, r := range []Resolver{c.v4, c.v6} {
		if hc, ok := r.(setHTTPClient); ok {
			hc.SetHTTPClient(c.httpClient)
		}
	}
}

// Client runs the sync for one Config.
// A Client is safe to Run repeatedly; nothing is kept between runs.
type Client struct {
	config       Config
	provider     Provider
	cfOptions    []CloudflareOption
	v4, v6       Resolver
	resolversSet bool
	log          logr.Logger
	httpClient   *http.Client
	comment      string
	concurrency  int
}

// Run performs one sync.
//
// Address resolution and the zone and record fetch run concurrently.
// If either fails the run stops before any change is made.
// Otherwise every planned change is attempted,
// and the returned error joins the failures of individual changes.
// The report is returned even when err is non-nil.
func (c *Client) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	var (
		zones   []Zone
		records []Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		report.Addrs, err = ResolvePublic(gctx, c.log, c.v4, c.v6)
		return err
	})
	g.Go(func() (err error) {
		zones, records, err = Fetch(gctx, c.provider)
		return err
	})
	if err := g.Wait(); err != nil {
		return report, err
	}

	entries, warnings := Match(c.config.Records, zones, records, MatchOptions{ValidateNames: c.config.ValidateNames})
	report.Warnings = warnings
	for _, w := range warnings {
		c.log.Info("skipping or degraded record", "warning", true, "name", w.Name, "reason", w.Reason)
	}

	actions := PlanAll(entries, report.Addrs, c.families(), PlanOptions{Comment: c.comment})
	c.log.V(1).Info("planned actions", "count", len(actions))

	report.Outcomes = Execute(ctx, c.provider, actions, ExecuteOptions{Log: c.log, Concurrency: c.concurrency})
	if err := report.Err(); err != nil {
		return report, err
	}
	c.log.Info("sync complete", "changed", report.Changed(), "planned", len(actions))
	return report, nil
}

// families are the families with a resolver; New already cleared the resolvers of families the config leaves out.
func (c *Client) families() Families {
	return Families{IPv4: c.v4 != nil, IPv6: c.v6 != nil}
}

// Fetch lists every zone of p and then the records of all zones concurrently.
// Records are returned grouped by zone, in zone order.
func Fetch(ctx context.Context, p Provider) ([]Zone, []Record, error) {
	zones, err := p.ListZones(ctx)
	if err != nil {
		return nil, nil, err
	}

	perZone := make([][]Record, len(zones))
	g, gctx := errgroup.WithContext(ctx)
	for i, z := range zones {
		i, z := i, z
		g.Go(func() (err error) {
			perZone[i], err = p.ListRecords(gctx, z.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var records []Record
	for _, rs := range perZone {
		records = append(records, rs...)
	}
	return zones, records, nil
}
