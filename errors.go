package cfsync

import (
	"errors"
	"fmt"
)

// ErrNoPublicAddress is returned when neither an IPv4 nor an IPv6 address could be resolved.
var ErrNoPublicAddress = errors.New("could not determine the current public IP address")

// ConfigurationError reports invalid or missing configuration.
// It is always returned before any network call is made.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// ProviderError is a failed call to the records API.
type ProviderError struct {
	Op     string // list zones, list records, create, update, delete
	Zone   string
	Record string
	Err    error
}

func (e *ProviderError) Error() string {
	msg := e.Op
	if e.Zone != "" {
		msg += " zone " + e.Zone
	}
	if e.Record != "" {
		msg += " record " + e.Record
	}
	return fmt.Sprintf("provider: %s: %s", msg, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MatchWarning explains why a configured name was not planned, or was planned with a caveat.
// Warnings never fail a run.
type MatchWarning struct {
	Name   string
	Reason string
}

func (w MatchWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Name, w.Reason)
}
