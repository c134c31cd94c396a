// Package dwnerr defines the error kinds shared across the DWN storage
// core. Every public operation in pkg/kv, pkg/blobstore, pkg/indexlevel,
// pkg/messagestore and pkg/query that can fail returns (or wraps) one of
// these kinds so callers can branch with errors.Is / errors.As instead of
// matching error strings.
package dwnerr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of failure. The zero value is never used.
type Kind string

const (
	// NotOpen is returned for an operation on a closed store.
	NotOpen Kind = "not_open"
	// Cancelled is returned when a context is done before or during an op.
	Cancelled Kind = "cancelled"
	// BadIndexValue is returned for unrepresentable index values.
	BadIndexValue Kind = "bad_index_value"
	// BadFilter is returned for structurally invalid query filters.
	BadFilter Kind = "bad_filter"
	// Corrupted is returned when the substrate holds data that violates
	// a store invariant (e.g. a secondary key with no indexes record).
	Corrupted Kind = "corrupted"
	// IO is returned for substrate-level failures (disk full, permission
	// denied, ...); the underlying error is propagated verbatim as Cause.
	IO Kind = "io"
)

// Error is the concrete error type returned by this module's packages.
type Error struct {
	Kind  Kind
	Op    string // e.g. "messagestore.Put", "indexlevel.Query"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, dwnerr.Sentinel(dwnerr.NotOpen)) work by treating
// a Kind sentinel as matching any *Error with the same Kind; another
// *Error target matches on Kind alone.
func (e *Error) Is(target error) bool {
	var k Kind
	if asKind(target, &k) {
		return e.Kind == k
	}
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds an *Error with no wrapped cause.
func New(op string, kind Kind) error {
	return &Error{Op: op, Kind: kind}
}

// Wrap builds an *Error around cause.
func Wrap(op string, kind Kind, cause error) error {
	if cause == nil {
		return New(op, kind)
	}
	return &Error{Op: op, Kind: kind, Cause: cause}
}

// OfKind reports whether err (or something it wraps) is a *Error of kind k.
func OfKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// Sentinel returns a lightweight error value usable with errors.Is against
// any *Error of the same kind, without allocating a full *Error.
func Sentinel(k Kind) error { return kindSentinel(k) }

func asKind(err error, out *Kind) bool {
	if s, ok := err.(kindSentinel); ok {
		*out = Kind(s)
		return true
	}
	return false
}
