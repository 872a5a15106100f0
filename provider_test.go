package cfsync_test

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/Travis-Britz/cfsync"
)

// fakeProvider is an in-memory records API.
// Delays and failures are keyed by record name.
type fakeProvider struct {
	mu      sync.Mutex
	zones   []cfsync.Zone
	records map[string][]cfsync.Record
	nextID  int
	calls   []string

	delay      map[string]time.Duration
	fail       map[string]error
	listErr    error
	inFlight   int
	maxFlight  int
	panicNames map[string]bool
}

func newFakeProvider(zones ...cfsync.Zone) *fakeProvider {
	return &fakeProvider{
		zones:      zones,
		records:    map[string][]cfsync.Record{},
		delay:      map[string]time.Duration{},
		fail:       map[string]error{},
		panicNames: map[string]bool{},
	}
}

// add stores a record and returns it with its assigned ID.
func (p *fakeProvider) add(zoneID string, t cfsync.RecordType, name, content string) cfsync.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	r := cfsync.Record{
		ID:      fmt.Sprintf("rec-%d", p.nextID),
		ZoneID:  zoneID,
		Name:    name,
		Type:    t,
		Content: content,
		TTL:     300,
	}
	if a, err := netip.ParseAddr(content); err == nil {
		r.Addr = a
	}
	p.records[zoneID] = append(p.records[zoneID], r)
	return r
}

func (p *fakeProvider) mutations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls := append([]string(nil), p.calls...)
	sort.Strings(calls)
	return calls
}

func (p *fakeProvider) find(zoneID, recordID string) (int, bool) {
	for i, r := range p.records[zoneID] {
		if r.ID == recordID {
			return i, true
		}
	}
	return 0, false
}

func (p *fakeProvider) enter(ctx context.Context, name, call string) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.inFlight++
	if p.inFlight > p.maxFlight {
		p.maxFlight = p.inFlight
	}
	d, err, boom := p.delay[name], p.fail[name], p.panicNames[name]
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if boom {
		panic("fake provider exploded on " + name)
	}
	return err
}

func (p *fakeProvider) ListZones(ctx context.Context) ([]cfsync.Zone, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]cfsync.Zone(nil), p.zones...), nil
}

func (p *fakeProvider) ListRecords(ctx context.Context, zoneID string) ([]cfsync.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]cfsync.Record(nil), p.records[zoneID]...), nil
}

func (p *fakeProvider) CreateRecord(ctx context.Context, zoneID string, params cfsync.RecordParams) (cfsync.Record, error) {
	if err := p.enter(ctx, params.Name, fmt.Sprintf("create %s %s %s", params.Type, params.Name, params.Content)); err != nil {
		return cfsync.Record{}, err
	}
	r := p.add(zoneID, params.Type, params.Name, params.Content)
	p.mu.Lock()
	defer p.mu.Unlock()
	i, _ := p.find(zoneID, r.ID)
	p.records[zoneID][i].TTL = params.TTL
	p.records[zoneID][i].Proxied = params.Proxied
	p.records[zoneID][i].Comment = params.Comment
	return p.records[zoneID][i], nil
}

func (p *fakeProvider) UpdateRecord(ctx context.Context, zoneID, recordID string, params cfsync.RecordParams) (cfsync.Record, error) {
	if err := p.enter(ctx, params.Name, fmt.Sprintf("update %s %s %s", params.Type, params.Name, params.Content)); err != nil {
		return cfsync.Record{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.find(zoneID, recordID)
	if !ok {
		return cfsync.Record{}, fmt.Errorf("record %s not found in zone %s", recordID, zoneID)
	}
	r := &p.records[zoneID][i]
	r.Name, r.Type, r.Content = params.Name, params.Type, params.Content
	r.Addr, _ = netip.ParseAddr(params.Content)
	r.TTL, r.Proxied, r.Comment = params.TTL, params.Proxied, params.Comment
	return *r, nil
}

func (p *fakeProvider) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	p.mu.Lock()
	var name string
	if i, ok := p.find(zoneID, recordID); ok {
		name = p.records[zoneID][i].Name
	}
	p.mu.Unlock()

	if err := p.enter(ctx, name, "delete "+recordID); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.find(zoneID, recordID)
	if !ok {
		return fmt.Errorf("record %s not found in zone %s", recordID, zoneID)
	}
	p.records[zoneID] = append(p.records[zoneID][:i], p.records[zoneID][i+1:]...)
	return nil
}
