package cfsync

import (
	"fmt"
	"net/netip"
)

type ActionKind int

const (
	Skip ActionKind = iota
	Update
	Create
	Delete
)

func (k ActionKind) String() string {
	switch k {
	case Skip:
		return "skip"
	case Update:
		return "update"
	case Create:
		return "create"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action is one planned change to a single (name, family) pair.
//
// Record is the existing record for Skip, Update and Delete.
// Params is the request body for Create and Update.
type Action struct {
	Kind   ActionKind
	Family Family
	Name   string
	ZoneID string
	Record *Record
	Addr   netip.Addr
	Params RecordParams
}

func (a Action) String() string {
	t := a.Family.RecordType()
	var current string
	if a.Record != nil {
		current = a.Record.Content
	}
	switch a.Kind {
	case Update:
		return fmt.Sprintf("update %s record %s (%s → %s)", t, a.Name, current, a.Addr)
	case Create:
		return fmt.Sprintf("create %s record %s → %s", t, a.Name, a.Addr)
	case Delete:
		return fmt.Sprintf("delete %s record %s (%s)", t, a.Name, current)
	}
	return fmt.Sprintf("skip %s record %s", t, a.Name)
}

// Mutates reports whether executing a needs a provider call.
func (a Action) Mutates() bool { return a.Kind != Skip }

// AutoTTL asks the provider to pick the TTL.
const AutoTTL = 1

// DefaultComment is attached to records created by cfsync.
const DefaultComment = "managed by cfsync"

type PlanOptions struct {
	// Comment is set on created records. Updates keep the existing comment.
	Comment string
}

// Plan decides what to do for each selected address family of e.
//
// With a public address: no record creates one, a record with another address is updated,
// and a record with the same address is skipped.
// Without a public address an existing record is deleted.
// Entries without a zone and families not in fs produce no actions,
// so at most one action is returned per family.
func Plan(e Entry, addrs Addrs, fs Families, opts PlanOptions) []Action {
	if e.ZoneID == "" {
		return nil
	}
	var actions []Action
	for _, f := range []Family{IPv4, IPv6} {
		if !fs.Has(f) {
			continue
		}
		if a, ok := planFamily(e, f, addrs, opts); ok {
			actions = append(actions, a)
		}
	}
	return actions
}

// PlanAll concatenates the plans of every entry.
func PlanAll(entries []Entry, addrs Addrs, fs Families, opts PlanOptions) []Action {
	var actions []Action
	for _, e := range entries {
		actions = append(actions, Plan(e, addrs, fs, opts)...)
	}
	return actions
}

func planFamily(e Entry, f Family, addrs Addrs, opts PlanOptions) (Action, bool) {
	existing := e.Existing(f)
	public, ok := addrs.Get(f)
	a := Action{Family: f, Name: e.Name, ZoneID: e.ZoneID, Record: existing, Addr: public}

	switch {
	case ok && existing != nil && existing.Addr == public:
		a.Kind = Skip
	case ok && existing != nil:
		a.Kind = Update
		a.ZoneID = recordZone(existing, e.ZoneID)
		a.Params = RecordParams{
			Type:    f.RecordType(),
			Name:    e.Name,
			Content: public.String(),
			TTL:     existing.TTL,
			Proxied: existing.Proxied,
			Comment: existing.Comment,
		}
	case ok:
		a.Kind = Create
		a.Params = RecordParams{
			Type:    f.RecordType(),
			Name:    e.Name,
			Content: public.String(),
			TTL:     AutoTTL,
			Proxied: false,
			Comment: opts.Comment,
		}
	case existing != nil:
		a.Kind = Delete
		a.ZoneID = recordZone(existing, e.ZoneID)
	default:
		return Action{}, false
	}
	return a, true
}

// recordZone prefers the zone the record was listed under.
func recordZone(r *Record, fallback string) string {
	if r.ZoneID != "" {
		return r.ZoneID
	}
	return fallback
}
