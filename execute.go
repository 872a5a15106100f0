package cfsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one action.
// Record is the record returned by the provider for Create and Update.
type Outcome struct {
	Action Action
	Record Record
	Err    error
}

type ExecuteOptions struct {
	Log logr.Logger
	// Concurrency caps the number of provider calls in flight. Zero means no limit.
	Concurrency int
}

// Execute sends every mutating action to p concurrently and waits for all of them.
//
// Skip actions are logged and never reach the provider.
// A failing or panicking action does not cancel or delay the others,
// and each action is attempted exactly once.
// Outcomes are returned in the order of actions.
func Execute(ctx context.Context, p Provider, actions []Action, opts ExecuteOptions) []Outcome {
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	outcomes := make([]Outcome, len(actions))
	// no WithContext: a failed action must not cancel the others
	var g errgroup.Group
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, a := range actions {
		outcomes[i].Action = a
		if !a.Mutates() {
			log.Info("skipping record; already up to date", "type", a.Family.RecordType(), "name", a.Name, "addr", a.Addr)
			continue
		}
		o := &outcomes[i]
		g.Go(func() error {
			o.Record, o.Err = run(ctx, p, log, o.Action)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func run(ctx context.Context, p Provider, log logr.Logger, a Action) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", a, r)
		}
	}()

	log.Info("request", "action", a.String())
	switch a.Kind {
	case Create:
		rec, err = p.CreateRecord(ctx, a.ZoneID, a.Params)
	case Update:
		rec, err = p.UpdateRecord(ctx, a.ZoneID, a.Record.ID, a.Params)
	case Delete:
		err = p.DeleteRecord(ctx, a.ZoneID, a.Record.ID)
	default:
		err = fmt.Errorf("unknown action kind %s", a.Kind)
	}
	if err != nil {
		log.Error(err, "request failed", "action", a.String())
		return rec, err
	}
	log.V(1).Info("request succeeded", "action", a.String())
	return rec, nil
}

// Report is the result of one run.
type Report struct {
	Addrs    Addrs
	Warnings []MatchWarning
	Outcomes []Outcome
}

// Failed returns the outcomes that ended in an error.
func (r *Report) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Changed counts the actions that modified a record.
func (r *Report) Changed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action.Mutates() && o.Err == nil {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed action, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Action, o.Err))
	}
	return errors.Join(errs...)
}
