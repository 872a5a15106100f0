package cfsync

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// FirstOf constructs a resolver that queries every resolver in rs concurrently
// and returns the first answer that is not an error and not empty.
// Lookups still in flight are cancelled once an answer is found.
func FirstOf(rs ...Resolver) Resolver {
	return firstOf(rs)
}

type firstOf []Resolver

func (rs firstOf) Resolve(ctx context.Context) ([]netip.Addr, error) {
	if len(rs) == 0 {
		return nil, errors.New("no resolvers were provided")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		addrs []netip.Addr
		err   error
	}
	// buffered so that losing lookups never block after we return
	results := make(chan result, len(rs))
	for _, r := range rs {
		r := r
		go func() {
			res := result{}
			res.addrs, res.err = r.Resolve(ctx)
			results <- res
		}()
	}

	var errs []error
	for range rs {
		res := <-results
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		if len(res.addrs) == 0 {
			errs = append(errs, errors.New("resolver returned no addresses"))
			continue
		}
		return res.addrs, nil
	}
	return nil, fmt.Errorf("all %d resolvers failed: %w", len(rs), errors.Join(errs...))
}

// ResolvePublic looks up the public address of each family concurrently.
//
// A nil resolver skips that family.
// A failing resolver is logged. Any usable address it returned alongside the error is kept,
// otherwise its family is treated as absent;
// ErrNoPublicAddress is returned only when neither family produced an address.
func ResolvePublic(ctx context.Context, log logr.Logger, v4, v6 Resolver) (Addrs, error) {
	var (
		addrs Addrs
		g     errgroup.Group
	)
	lookup := func(f Family, r Resolver, dst *netip.Addr) {
		found, err := r.Resolve(ctx)
		if err != nil {
			// a partial answer, such as one of several interfaces missing, still counts
			log.V(1).Info("address lookup failed", "family", f, "error", err.Error(), "found", len(found))
		}
		for _, a := range found {
			a = a.Unmap()
			if f.Contains(a) {
				*dst = a
				return
			}
		}
		if err == nil {
			log.V(1).Info("address lookup returned no usable address", "family", f, "addrs", found)
		}
	}

	// lookups report nothing to the group so one family never cancels the other
	if v4 != nil {
		g.Go(func() error { lookup(IPv4, v4, &addrs.V4); return nil })
	}
	if v6 != nil {
		g.Go(func() error { lookup(IPv6, v6, &addrs.V6); return nil })
	}
	_ = g.Wait()

	if !addrs.V4.IsValid() && !addrs.V6.IsValid() {
		return addrs, ErrNoPublicAddress
	}
	if addrs.V4.IsValid() {
		log.Info("resolved public address", "family", IPv4, "addr", addrs.V4)
	}
	if addrs.V6.IsValid() {
		log.Info("resolved public address", "family", IPv6, "addr", addrs.V6)
	}
	return addrs, nil
}
