package cfsync

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Entry pairs a configured name with its zone and the A and AAAA records it currently has.
// An empty ZoneID means no zone matched.
type Entry struct {
	Name   string
	ZoneID string
	A      *Record
	AAAA   *Record
}

// Existing returns the tracked record for family f, or nil.
func (e Entry) Existing(f Family) *Record {
	if f == IPv6 {
		return e.AAAA
	}
	return e.A
}

type MatchOptions struct {
	// ValidateNames excludes names that are not valid domain names under a known public suffix.
	ValidateNames bool
}

// Match joins the configured names with already fetched zones and records.
//
// The zone of a name is the first zone in zones whose name is a suffix of it.
// The A and AAAA slots hold the first record of that type whose name equals the configured name;
// further records of the same type are ignored and reported.
// Names without a zone are still returned, with an empty ZoneID, alongside a warning.
func Match(names []string, zones []Zone, records []Record, opts MatchOptions) ([]Entry, []MatchWarning) {
	var (
		entries  []Entry
		warnings []MatchWarning
		seen     = make(map[string]bool, len(names))
	)
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		if opts.ValidateNames {
			if reason := invalidName(name); reason != "" {
				warnings = append(warnings, MatchWarning{Name: name, Reason: "invalid domain name: " + reason})
				continue
			}
		}

		e := Entry{Name: name}
		for _, z := range zones {
			if z.Name != "" && strings.HasSuffix(name, z.Name) {
				e.ZoneID = z.ID
				break
			}
		}
		if e.ZoneID == "" {
			warnings = append(warnings, MatchWarning{Name: name, Reason: "no zone found"})
		}

		for i := range records {
			r := &records[i]
			if r.Name != name {
				continue
			}
			var slot **Record
			switch r.Type {
			case TypeA:
				slot = &e.A
			case TypeAAAA:
				slot = &e.AAAA
			default:
				continue
			}
			if *slot != nil {
				warnings = append(warnings, MatchWarning{
					Name:   name,
					Reason: "duplicate " + string(r.Type) + " record " + r.ID + " ignored; using " + (*slot).ID,
				})
				continue
			}
			rec := *r
			*slot = &rec
		}
		entries = append(entries, e)
	}
	return entries, warnings
}

// invalidName returns why name is not an acceptable domain name, or "" if it is.
func invalidName(name string) string {
	n := strings.TrimSuffix(name, ".")
	if len(n) == 0 || len(n) > 253 {
		return "length must be between 1 and 253"
	}
	labels := strings.Split(n, ".")
	if len(labels) < 2 {
		return "must have at least two labels"
	}
	for i, l := range labels {
		if l == "*" && i == 0 {
			continue
		}
		if len(l) == 0 || len(l) > 63 {
			return "label length must be between 1 and 63"
		}
		if l[0] == '-' || l[len(l)-1] == '-' {
			return "label " + l + " starts or ends with a hyphen"
		}
		for _, c := range l {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			default:
				return "label " + l + " contains " + string(c)
			}
		}
	}

	suffix, icann := publicsuffix.PublicSuffix(strings.ToLower(n))
	if !icann && !strings.Contains(suffix, ".") {
		return "unknown public suffix " + suffix
	}
	if suffix == strings.ToLower(n) {
		return "is a public suffix"
	}
	return ""
}
