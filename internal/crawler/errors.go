package crawler

import "errors"

var (
	// ErrTransport marks network, timeout, and non-2xx failures from a fetch tier.
	ErrTransport = errors.New("transport failure")
	// ErrLowQuality marks a body rejected by the meaningful-content heuristic.
	ErrLowQuality = errors.New("content quality failure")
	// ErrParse marks malformed sitemap or markup input.
	ErrParse = errors.New("parse failure")
	// ErrEscalationUnconfigured is returned when escalation is requested without credentials.
	ErrEscalationUnconfigured = errors.New("escalation enabled but credentials are missing")
	// ErrNotFound is returned by stores when a row does not exist.
	ErrNotFound = errors.New("not found")
)
