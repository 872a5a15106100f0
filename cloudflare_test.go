package cfsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Travis-Britz/cfsync"
)

type envelope struct {
	Success    bool              `json:"success"`
	Errors     []json.RawMessage `json:"errors"`
	Messages   []json.RawMessage `json:"messages"`
	Result     any               `json:"result"`
	ResultInfo map[string]int    `json:"result_info,omitempty"`
}

// writeResult writes a successful envelope. A negative count omits result_info.
func writeResult(w http.ResponseWriter, result any, count int) {
	if count < 0 {
		writeEnvelope(w, envelope{Result: result})
		return
	}
	writePage(w, result, 1, count, count)
}

func writePage(w http.ResponseWriter, result any, page, count, total int) {
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	writeEnvelope(w, envelope{Result: result, ResultInfo: map[string]int{
		"page": page, "per_page": perPage, "count": count, "total_count": total, "total_pages": pages,
	}})
}

func writeEnvelope(w http.ResponseWriter, env envelope) {
	env.Success = true
	env.Errors, env.Messages = []json.RawMessage{}, []json.RawMessage{}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(env)
}

const perPage = 50

// cloudflareAPI fakes the few endpoints the provider uses and records every request.
type cloudflareAPI struct {
	t        *testing.T
	mu       sync.Mutex
	requests []string
	bodies   map[string]map[string]any
	records  []map[string]any
	zones    []map[string]any
	failZone bool
	header   http.Header
}

func newCloudflareAPI(t *testing.T) (*cloudflareAPI, *httptest.Server) {
	api := &cloudflareAPI{
		t:      t,
		bodies: map[string]map[string]any{},
		zones:  []map[string]any{{"id": "z1", "name": "example.com"}},
		records: []map[string]any{
			{"id": "r1", "zone_id": "z1", "zone_name": "example.com", "name": "home.example.com", "type": "A", "content": "1.1.1.1", "ttl": 120, "proxied": true, "comment": "hand made"},
			{"id": "r2", "zone_id": "z1", "zone_name": "example.com", "name": "home.example.com", "type": "AAAA", "content": "2001:db8::1", "ttl": 1, "proxied": false},
			{"id": "r3", "zone_id": "z1", "zone_name": "example.com", "name": "www.example.com", "type": "CNAME", "content": "home.example.com", "ttl": 1},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(srv.Close)
	return api, srv
}

func (api *cloudflareAPI) serve(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	key := r.Method + " " + r.URL.Path
	api.requests = append(api.requests, key)
	api.header = r.Header.Clone()

	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			var body map[string]any
			if err := json.Unmarshal(data, &body); err != nil {
				api.t.Errorf("%s: invalid JSON body: %s", key, err)
			}
			api.bodies[key] = body
		}
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/zones":
		if api.failZone {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"success":false,"errors":[{"code":9109,"message":"Invalid access token"}],"messages":[],"result":null}`)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		start := min((page-1)*perPage, len(api.zones))
		end := min(start+perPage, len(api.zones))
		writePage(w, api.zones[start:end], page, end-start, len(api.zones))
	case r.Method == http.MethodGet && r.URL.Path == "/user/tokens/verify":
		status := "active"
		if r.Header.Get("Authorization") != "Bearer secret" {
			status = "disabled"
		}
		writeResult(w, map[string]string{"id": "tok", "status": status}, -1)
	case r.Method == http.MethodGet && r.URL.Path == "/zones/z1/dns_records":
		writeResult(w, api.records, len(api.records))
	case r.Method == http.MethodGet && r.URL.Path == "/zones/forbidden/dns_records":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"success":false,"errors":[{"code":10000,"message":"Authentication error"}],"messages":[],"result":null}`)
	case r.Method == http.MethodPost && r.URL.Path == "/zones/z1/dns_records":
		result := api.bodies[key]
		result["id"] = "r9"
		result["zone_id"] = "z1"
		writeResult(w, result, -1)
	case (r.Method == http.MethodPatch || r.Method == http.MethodPut) && r.URL.Path == "/zones/z1/dns_records/r1":
		result := api.bodies[key]
		result["id"] = "r1"
		writeResult(w, result, -1)
	case r.Method == http.MethodDelete && r.URL.Path == "/zones/z1/dns_records/r2":
		writeResult(w, map[string]string{"id": "r2"}, -1)
	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"success":false,"errors":[{"code":7003,"message":"Could not route"}],"messages":[],"result":null}`)
	}
}

func (api *cloudflareAPI) lastHeader() http.Header {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.header
}

// body returns the decoded request body sent to the first of keys that was requested.
func (api *cloudflareAPI) body(keys ...string) map[string]any {
	api.mu.Lock()
	defer api.mu.Unlock()
	for _, k := range keys {
		if b, ok := api.bodies[k]; ok {
			return b
		}
	}
	return nil
}

func newTestCloudflare(t *testing.T, srv *httptest.Server, creds cfsync.Credentials) *cfsync.CloudflareProvider {
	t.Helper()
	cf, err := cfsync.NewCloudflare(creds, cfsync.CloudflareBaseURL(srv.URL), cfsync.CloudflareRateLimit(1000))
	if err != nil {
		t.Fatalf("NewCloudflare: %s", err)
	}
	return cf
}

func TestCloudflareListZonesAndRecords(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})
	ctx := context.Background()

	zones, err := cf.ListZones(ctx)
	if err != nil {
		t.Fatalf("ListZones: %s", err)
	}
	if len(zones) != 1 || zones[0] != (cfsync.Zone{ID: "z1", Name: "example.com"}) {
		t.Fatalf("unexpected zones: %+v", zones)
	}
	if auth := api.lastHeader().Get("Authorization"); auth != "Bearer secret" {
		t.Fatalf("Expected a bearer token; got %q", auth)
	}

	records, err := cf.ListRecords(ctx, "z1")
	if err != nil {
		t.Fatalf("ListRecords: %s", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records; got %d", len(records))
	}
	a := records[0]
	if a.Type != cfsync.TypeA || a.Addr != netip.MustParseAddr("1.1.1.1") || a.TTL != 120 || !a.Proxied || a.Comment != "hand made" {
		t.Fatalf("unexpected A record: %+v", a)
	}
	if records[1].Addr != netip.MustParseAddr("2001:db8::1") {
		t.Fatalf("unexpected AAAA address: %s", records[1].Addr)
	}
	if records[2].Type != cfsync.TypeCNAME || records[2].Addr.IsValid() {
		t.Fatalf("Expected a CNAME without an address; got %+v", records[2])
	}
}

func TestCloudflareListZonesPaged(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	api.zones = nil
	for i := 0; i < perPage+1; i++ {
		api.zones = append(api.zones, map[string]any{"id": fmt.Sprintf("z%d", i), "name": fmt.Sprintf("example%d.com", i)})
	}
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})

	zones, err := cf.ListZones(context.Background())
	if err != nil {
		t.Fatalf("ListZones: %s", err)
	}
	if len(zones) != perPage+1 {
		t.Fatalf("Expected %d zones; got %d", perPage+1, len(zones))
	}
	seen := map[string]bool{}
	for i, z := range zones {
		if want := fmt.Sprintf("z%d", i); z.ID != want || seen[z.ID] {
			t.Fatalf("zone %d: Expected %s once; got %s", i, want, z.ID)
		}
		seen[z.ID] = true
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 2 {
		t.Fatalf("Expected one request per page; got %v", api.requests)
	}
}

func TestCloudflareKeyAuth(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Key: "k", Email: "me@example.com"})
	if _, err := cf.ListZones(context.Background()); err != nil {
		t.Fatalf("ListZones: %s", err)
	}
	h := api.lastHeader()
	key, email := h.Get("X-Auth-Key"), h.Get("X-Auth-Email")
	if key != "k" || email != "me@example.com" {
		t.Fatalf("Expected X-Auth-Key and X-Auth-Email; got %q and %q", key, email)
	}
}

func TestCloudflareMissingCredentials(t *testing.T) {
	for _, creds := range []cfsync.Credentials{{}, {Key: "k"}, {Email: "me@example.com"}} {
		_, err := cfsync.NewCloudflare(creds)
		var cerr *cfsync.ConfigurationError
		if !errors.As(err, &cerr) {
			t.Fatalf("%+v: Expected a ConfigurationError; got %v", creds, err)
		}
	}
}

func TestCloudflareMutations(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})
	ctx := context.Background()

	created, err := cf.CreateRecord(ctx, "z1", cfsync.RecordParams{Type: cfsync.TypeA, Name: "new.example.com", Content: "3.3.3.3", TTL: cfsync.AutoTTL, Comment: "managed"})
	if err != nil {
		t.Fatalf("CreateRecord: %s", err)
	}
	if created.ID != "r9" || created.Addr != netip.MustParseAddr("3.3.3.3") {
		t.Fatalf("unexpected created record: %+v", created)
	}
	body := api.body("POST /zones/z1/dns_records")
	if body["proxied"] != false || body["ttl"] != float64(1) || body["type"] != "A" || body["comment"] != "managed" {
		t.Fatalf("unexpected create body: %v", body)
	}

	updated, err := cf.UpdateRecord(ctx, "z1", "r1", cfsync.RecordParams{Type: cfsync.TypeA, Name: "home.example.com", Content: "2.2.2.2", TTL: 120, Proxied: true, Comment: "hand made"})
	if err != nil {
		t.Fatalf("UpdateRecord: %s", err)
	}
	if updated.Addr != netip.MustParseAddr("2.2.2.2") || updated.ZoneID != "z1" {
		t.Fatalf("unexpected updated record: %+v", updated)
	}
	updateBody := api.body("PATCH /zones/z1/dns_records/r1", "PUT /zones/z1/dns_records/r1")
	if updateBody["content"] != "2.2.2.2" || updateBody["proxied"] != true || updateBody["ttl"] != float64(120) {
		t.Fatalf("unexpected update body: %v", updateBody)
	}

	if err := cf.DeleteRecord(ctx, "z1", "r2"); err != nil {
		t.Fatalf("DeleteRecord: %s", err)
	}
}

func TestCloudflareSuccessFalse(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	api.failZone = true
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})

	_, err := cf.ListZones(context.Background())
	var perr *cfsync.ProviderError
	if !errors.As(err, &perr) || perr.Op != "list zones" {
		t.Fatalf("Expected a list zones ProviderError; got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid access token") {
		t.Fatalf("Expected the provider message in the error; got %s", err)
	}
}

func TestCloudflareHTTPError(t *testing.T) {
	_, srv := newCloudflareAPI(t)
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})

	_, err := cf.ListRecords(context.Background(), "forbidden")
	var perr *cfsync.ProviderError
	if !errors.As(err, &perr) || perr.Zone != "forbidden" {
		t.Fatalf("Expected a ProviderError for zone forbidden; got %v", err)
	}
}

func TestCloudflareMalformedAddress(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	api.records = append(api.records, map[string]any{"id": "bad", "zone_id": "z1", "name": "bad.example.com", "type": "A", "content": "not-an-ip"})
	cf := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"})

	_, err := cf.ListRecords(context.Background(), "z1")
	var perr *cfsync.ProviderError
	if !errors.As(err, &perr) || perr.Record != "bad" {
		t.Fatalf("Expected a ProviderError for record bad; got %v", err)
	}
}

func TestRunAgainstCloudflare(t *testing.T) {
	api, srv := newCloudflareAPI(t)
	cfg := cfsync.Config{
		Records:     []string{"home.example.com", "new.example.com"},
		Credentials: cfsync.Credentials{Token: "secret"},
		IPv4:        true,
	}
	c, err := cfsync.New(cfg,
		cfsync.UsingCloudflareOptions(cfsync.CloudflareBaseURL(srv.URL), cfsync.CloudflareRateLimit(1000)),
		cfsync.UsingResolver(staticResolver(t, "2.2.2.2")),
	)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	report, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if report.Changed() != 2 {
		t.Fatalf("Expected 2 changes; got %d", report.Changed())
	}

	api.mu.Lock()
	var mutations int
	for _, r := range api.requests {
		if !strings.HasPrefix(r, http.MethodGet) {
			mutations++
		}
	}
	requests := api.requests
	api.mu.Unlock()
	if mutations != 2 {
		t.Fatalf("Expected 2 mutating requests; got %v", requests)
	}

	created := api.body("POST /zones/z1/dns_records")
	if created["name"] != "new.example.com" || created["content"] != "2.2.2.2" || created["proxied"] != false || created["ttl"] != float64(cfsync.AutoTTL) {
		t.Fatalf("Expected an unproxied record with automatic TTL; got %v", created)
	}
	updated := api.body("PATCH /zones/z1/dns_records/r1", "PUT /zones/z1/dns_records/r1")
	if updated["content"] != "2.2.2.2" || updated["ttl"] != float64(120) || updated["proxied"] != true || updated["comment"] != "hand made" {
		t.Fatalf("Expected the update to keep ttl, proxied and comment of r1; got %v", updated)
	}
}

func TestCloudflareVerifyToken(t *testing.T) {
	_, srv := newCloudflareAPI(t)
	if err := newTestCloudflare(t, srv, cfsync.Credentials{Token: "secret"}).VerifyToken(context.Background()); err != nil {
		t.Fatalf("VerifyToken: %s", err)
	}
	err := newTestCloudflare(t, srv, cfsync.Credentials{Token: "revoked"}).VerifyToken(context.Background())
	var perr *cfsync.ProviderError
	if !errors.As(err, &perr) || perr.Op != "verify token" {
		t.Fatalf("Expected a verify token ProviderError; got %v", err)
	}
}
