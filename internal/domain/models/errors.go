package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures the orchestrator distinguishes.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindSourceRead    ErrorKind = "source_read"
	KindFetch         ErrorKind = "fetch"
	KindSinkWrite     ErrorKind = "sink_write"
	KindStaleRun      ErrorKind = "stale_run"
)

// ErrRunSuperseded is returned by store updates addressed to a run that is no
// longer the current one.
var ErrRunSuperseded = errors.New("run superseded")

// Error is a classified error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// FetchReason says why a series was unavailable.
type FetchReason string

const (
	ReasonTransport        FetchReason = "transport"
	ReasonNonSuccessStatus FetchReason = "non_success_status"
	ReasonEmptyPayload     FetchReason = "empty_payload"
)

// FetchError reports an unavailable series.
type FetchError struct {
	Symbol   string
	Interval string
	Reason   FetchReason
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Reason {
	case ReasonNonSuccessStatus:
		return fmt.Sprintf("fetch %s %s: status %d", e.Symbol, e.Interval, e.Status)
	case ReasonEmptyPayload:
		return fmt.Sprintf("fetch %s %s: no data", e.Symbol, e.Interval)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Symbol, e.Interval, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or "" when err is unclassified.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return KindFetch
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
