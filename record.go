package cfsync

import (
	"fmt"
	"net/netip"
)

type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeMX    RecordType = "MX"
	TypeTXT   RecordType = "TXT"
	TypeNS    RecordType = "NS"
	TypeSRV   RecordType = "SRV"
)

// Zone is a group of records under one domain suffix.
type Zone struct {
	ID   string
	Name string
}

// Record is a snapshot of a DNS record held by the provider.
//
// Addr is only valid for A and AAAA records.
type Record struct {
	ID       string
	ZoneID   string
	ZoneName string
	Name     string
	Type     RecordType
	Content  string
	Addr     netip.Addr
	TTL      int
	Proxied  bool
	Comment  string
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s", r.Type, r.Name, r.Content)
}

// RecordParams are the writable fields of a record.
type RecordParams struct {
	Type    RecordType
	Name    string
	Content string
	TTL     int
	Proxied bool
	Comment string
}

// Family is an IP address family.
type Family int

const (
	IPv4 Family = iota + 1
	IPv6
)

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// RecordType returns the record type that holds addresses of f.
func (f Family) RecordType() RecordType {
	if f == IPv6 {
		return TypeAAAA
	}
	return TypeA
}

// Contains reports whether a belongs to f.
// IPv4-mapped IPv6 addresses count as IPv4.
func (f Family) Contains(a netip.Addr) bool {
	switch f {
	case IPv4:
		return a.Is4() || a.Is4In6()
	case IPv6:
		return a.Is6() && !a.Is4In6()
	}
	return false
}

func familyOf(t RecordType) (Family, bool) {
	switch t {
	case TypeA:
		return IPv4, true
	case TypeAAAA:
		return IPv6, true
	}
	return 0, false
}

// Families selects the address families to keep in sync.
type Families struct {
	IPv4 bool
	IPv6 bool
}

// Has reports whether f is selected.
// A Families value with neither field set selects both.
func (fs Families) Has(f Family) bool {
	if !fs.IPv4 && !fs.IPv6 {
		return true
	}
	switch f {
	case IPv4:
		return fs.IPv4
	case IPv6:
		return fs.IPv6
	}
	return false
}

// Addrs holds the resolved public address of each family.
// The zero netip.Addr means no address was found.
type Addrs struct {
	V4 netip.Addr
	V6 netip.Addr
}

// Get returns the address for f and whether it is present.
func (a Addrs) Get(f Family) (netip.Addr, bool) {
	var addr netip.Addr
	switch f {
	case IPv4:
		addr = a.V4
	case IPv6:
		addr = a.V6
	}
	return addr, addr.IsValid()
}
