// Package ggerr defines the abstract error kinds shared across the
// deployment pipeline, so callers can classify a failure (retry? abort?
// informational?) without depending on where it originated.
package ggerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the deployment pipeline reasons about
// failure handling, independent of which subsystem produced it.
type Kind string

const (
	// Invalid marks malformed input, a version conflict, or a schema
	// violation. The current operation aborts; the deployment fails.
	Invalid Kind = "INVALID"
	// NoEntry marks a missing config key, absent job, or absent recovery
	// state. Informational at most call sites; fatal at a few (missing
	// thing name).
	NoEntry Kind = "NOENTRY"
	// Busy marks a full queue. Callers retry with backoff.
	Busy Kind = "BUSY"
	// Remote marks an RPC that returned an error payload. Callers inspect
	// the payload; version conflicts rebase and retry, others fail.
	Remote Kind = "REMOTE"
	// Failure marks an external command or network failure. Retried where
	// configured, otherwise failed.
	Failure Kind = "FAILURE"
	// Unsupported marks an unknown URI scheme, digest algorithm, or
	// archive type. Fails the deployment.
	Unsupported Kind = "UNSUPPORTED"
	// Parse marks a JSON/YAML/protocol parse failure.
	Parse Kind = "PARSE"
	// Range marks a numeric overflow, e.g. job version wraparound.
	Range Kind = "RANGE"
)

// Error is a Kind-tagged error with an optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind, letting callers
// write errors.Is(err, ggerr.New(ggerr.Busy, "")) or compare against the
// Kind sentinels below via errors.Is(err, ggerr.ErrBusy).
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Kind == te.Kind
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind, wrapping cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Sentinel values usable with errors.Is; carry no message of their own.
var (
	ErrInvalid     = &Error{Kind: Invalid}
	ErrNoEntry     = &Error{Kind: NoEntry}
	ErrBusy        = &Error{Kind: Busy}
	ErrRemote      = &Error{Kind: Remote}
	ErrFailure     = &Error{Kind: Failure}
	ErrUnsupported = &Error{Kind: Unsupported}
	ErrParse       = &Error{Kind: Parse}
	ErrRange       = &Error{Kind: Range}
)

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is tagged with kind, walking the Unwrap chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
