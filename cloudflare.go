package cfsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-cleanhttp"
)

type cloudflareOptions struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  float64
	retries    int
}

// CloudflareOption configures the provider returned by NewCloudflare.
type CloudflareOption func(*cloudflareOptions)

// CloudflareBaseURL points the provider at a different API root.
func CloudflareBaseURL(u string) CloudflareOption {
	return func(o *cloudflareOptions) { o.baseURL = u }
}

// CloudflareHTTPClient sets the client used for API calls.
// Its transport is wrapped so that responses reporting "success": false become errors.
func CloudflareHTTPClient(c *http.Client) CloudflareOption {
	return func(o *cloudflareOptions) { o.httpClient = c }
}

// CloudflareRateLimit sets the maximum requests per second.
func CloudflareRateLimit(rps float64) CloudflareOption {
	return func(o *cloudflareOptions) { o.rateLimit = rps }
}

// CloudflareRetries sets how many times a request that failed at the transport level,
// or with a 429 or 5xx status, is retried. The default is 0.
func CloudflareRetries(n int) CloudflareOption {
	return func(o *cloudflareOptions) { o.retries = n }
}

// NewCloudflare constructs a Provider for the Cloudflare v4 API.
//
// An API token is preferred.
// The global API key with email still works but is deprecated,
// and a warning is logged once a logger is set.
// Missing credentials are reported as a *ConfigurationError.
func NewCloudflare(creds Credentials, options ...CloudflareOption) (*CloudflareProvider, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	o := &cloudflareOptions{}
	for _, opt := range options {
		opt(o)
	}

	cf := &CloudflareProvider{log: logr.Discard(), keyAuth: !creds.UsesToken()}
	cf.httpClient = envelopeClient(o.httpClient)
	opts := []cloudflare.Option{
		cloudflare.HTTPClient(cf.httpClient),
		cloudflare.UsingRetryPolicy(o.retries, 1, 30),
	}
	if o.baseURL != "" {
		opts = append(opts, cloudflare.BaseURL(strings.TrimSuffix(o.baseURL, "/")))
	}
	if o.rateLimit > 0 {
		opts = append(opts, cloudflare.UsingRateLimit(o.rateLimit))
	}

	var err error
	if creds.UsesToken() {
		cf.api, err = cloudflare.NewWithAPIToken(creds.Token, opts...)
	} else {
		cf.api, err = cloudflare.New(creds.Key, creds.Email, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating cloudflare api client: %w", err)
	}
	return cf, nil
}

// CloudflareProvider implements cfsync.Provider.
//
// The underlying API client is never modified after construction,
// so one CloudflareProvider serves every concurrent request of a run.
type CloudflareProvider struct {
	api        *cloudflare.API
	httpClient *http.Client
	log        logr.Logger
	keyAuth    bool
}

func (cf *CloudflareProvider) SetLogger(log logr.Logger) {
	cf.log = log
	if cf.keyAuth {
		cf.log.Info("API key and email authentication is deprecated; please switch to an API token", "warning", true)
	}
}

// SetHTTPClient replaces the transport used for API calls.
// It must be called before the provider is shared.
func (cf *CloudflareProvider) SetHTTPClient(c *http.Client) {
	if c == nil {
		c = cleanhttp.DefaultPooledClient()
	}
	cf.httpClient.Transport = envelopeClient(c).Transport
	cf.httpClient.Timeout = c.Timeout
}

// VerifyToken checks that the configured API token is active.
func (cf *CloudflareProvider) VerifyToken(ctx context.Context) error {
	result, err := cf.api.VerifyAPIToken(ctx)
	if err != nil {
		return &ProviderError{Op: "verify token", Err: err}
	}
	if result.Status != "active" {
		return &ProviderError{Op: "verify token", Err: fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)}
	}
	return nil
}

// ListZones returns every zone visible to the credentials.
// cloudflare-go fetches the remaining pages itself when there is more than one.
func (cf *CloudflareProvider) ListZones(ctx context.Context) ([]Zone, error) {
	r, err := cf.api.ListZonesContext(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "list zones", Err: err}
	}
	if !r.Success {
		return nil, &ProviderError{Op: "list zones", Err: responseErrors(r.Errors)}
	}
	zones := make([]Zone, 0, len(r.Result))
	for _, z := range r.Result {
		zones = append(zones, Zone{ID: z.ID, Name: z.Name})
	}
	cf.log.V(1).Info("listed zones", "count", len(zones))
	return zones, nil
}

func (cf *CloudflareProvider) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	rs, _, err := cf.api.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.ListDNSRecordsParams{})
	if err != nil {
		return nil, &ProviderError{Op: "list records", Zone: zoneID, Err: err}
	}
	records := make([]Record, 0, len(rs))
	for _, r := range rs {
		rec, err := recordIn(zoneID, r)
		if err != nil {
			return nil, &ProviderError{Op: "list records", Zone: zoneID, Record: r.ID, Err: err}
		}
		records = append(records, rec)
	}
	cf.log.V(1).Info("listed records", "zone", zoneID, "count", len(records))
	return records, nil
}

func (cf *CloudflareProvider) CreateRecord(ctx context.Context, zoneID string, params RecordParams) (Record, error) {
	resp, err := cf.api.CreateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.CreateDNSRecordParams{
		Type:    string(params.Type),
		Name:    params.Name,
		Content: params.Content,
		ZoneID:  zoneID,
		TTL:     params.TTL,
		Proxied: cloudflare.BoolPtr(params.Proxied),
		Comment: params.Comment,
	})
	if err != nil {
		return Record{}, &ProviderError{Op: "create", Zone: zoneID, Record: params.Name, Err: err}
	}
	rec, err := recordIn(zoneID, resp)
	if err != nil {
		return Record{}, &ProviderError{Op: "create", Zone: zoneID, Record: params.Name, Err: err}
	}
	return rec, nil
}

func (cf *CloudflareProvider) UpdateRecord(ctx context.Context, zoneID, recordID string, params RecordParams) (Record, error) {
	resp, err := cf.api.UpdateDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), cloudflare.UpdateDNSRecordParams{
		ID:      recordID,
		Type:    string(params.Type),
		Name:    params.Name,
		Content: params.Content,
		TTL:     params.TTL,
		Proxied: cloudflare.BoolPtr(params.Proxied),
		Comment: params.Comment,
	})
	if err != nil {
		return Record{}, &ProviderError{Op: "update", Zone: zoneID, Record: recordID, Err: err}
	}
	rec, err := recordIn(zoneID, resp)
	if err != nil {
		return Record{}, &ProviderError{Op: "update", Zone: zoneID, Record: recordID, Err: err}
	}
	return rec, nil
}

func (cf *CloudflareProvider) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	if err := cf.api.DeleteDNSRecord(ctx, cloudflare.ZoneIdentifier(zoneID), recordID); err != nil {
		return &ProviderError{Op: "delete", Zone: zoneID, Record: recordID, Err: err}
	}
	return nil
}

func fromCloudflare(r cloudflare.DNSRecord) (Record, error) {
	rec := Record{
		ID:       r.ID,
		ZoneID:   r.ZoneID,
		ZoneName: r.ZoneName,
		Name:     r.Name,
		Type:     RecordType(r.Type),
		Content:  r.Content,
		TTL:      r.TTL,
		Proxied:  r.Proxied != nil && *r.Proxied,
		Comment:  r.Comment,
	}
	if f, ok := familyOf(rec.Type); ok {
		a, err := netip.ParseAddr(r.Content)
		if err != nil {
			return rec, fmt.Errorf("error parsing IP from content of %s record %s: %w", rec.Type, rec.Name, err)
		}
		if !f.Contains(a) {
			return rec, fmt.Errorf("%s record %s holds an %s address", rec.Type, rec.Name, a)
		}
		rec.Addr = a.Unmap()
	}
	return rec, nil
}

// recordIn converts r and fills in the zone it was requested from when the API left it out.
func recordIn(zoneID string, r cloudflare.DNSRecord) (Record, error) {
	rec, err := fromCloudflare(r)
	if rec.ZoneID == "" {
		rec.ZoneID = zoneID
	}
	return rec, err
}

func responseErrors(infos []cloudflare.ResponseInfo) error {
	if len(infos) == 0 {
		return errors.New("request was not successful")
	}
	errs := make([]error, 0, len(infos))
	for _, i := range infos {
		errs = append(errs, fmt.Errorf("%d: %s", i.Code, i.Message))
	}
	return errors.Join(errs...)
}

// envelopeClient wraps c so that a 2xx response whose JSON envelope says "success": false is an error.
// A nil c gets a pooled transport shared by every request of the provider.
func envelopeClient(c *http.Client) *http.Client {
	next := http.RoundTripper(cleanhttp.DefaultPooledTransport())
	var timeout time.Duration
	if c != nil {
		timeout = c.Timeout
		if c.Transport != nil {
			next = c.Transport
		}
	}
	return &http.Client{Transport: envelopeTransport{next: next}, Timeout: timeout}
}

type envelopeTransport struct {
	next http.RoundTripper
}

func (t envelopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	var envelope struct {
		Success *bool                     `json:"success"`
		Errors  []cloudflare.ResponseInfo `json:"errors"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Success != nil && !*envelope.Success {
		return nil, fmt.Errorf("%s %s: cloudflare reported failure: %w", req.Method, req.URL.Path, responseErrors(envelope.Errors))
	}
	return resp, nil
}
