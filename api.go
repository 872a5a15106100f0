package cfsync

import (
	"context"
	"net/netip"
)

// Resolver looks up addresses for the host.
type Resolver interface {
	Resolve(context.Context) ([]netip.Addr, error)
}

// ResolverFunc adapts an ordinary function to a Resolver.
type ResolverFunc func(context.Context) ([]netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context) ([]netip.Addr, error) {
	return f(ctx)
}

// Provider is the records API of a DNS host.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	ListZones(ctx context.Context) ([]Zone, error)
	ListRecords(ctx context.Context, zoneID string) ([]Record, error)
	CreateRecord(ctx context.Context, zoneID string, params RecordParams) (Record, error)
	UpdateRecord(ctx context.Context, zoneID, recordID string, params RecordParams) (Record, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}
