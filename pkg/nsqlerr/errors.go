// Package nsqlerr defines the error kinds shared by every component of
// the multi-tenant NSQL front-end, and the helpers used to construct and
// inspect them.
package nsqlerr

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind identifies the category of failure, independent of the Go type
// that carries it.
type Kind string

const (
	KindNoTenantContext     Kind = "NO_TENANT_CONTEXT"
	KindTableNotFound       Kind = "TABLE_NOT_FOUND"
	KindTableAlreadyExists  Kind = "TABLE_ALREADY_EXISTS"
	KindIncompatibleSchema  Kind = "INCOMPATIBLE_SCHEMA"
	KindNoCompatibleIndex   Kind = "NO_COMPATIBLE_INDEX"
	KindUnsupportedPredicate Kind = "UNSUPPORTED_PREDICATE"
	KindUnsupportedOperation Kind = "UNSUPPORTED_OPERATION"
	KindMalformedPhysicalKey Kind = "MALFORMED_PHYSICAL_KEY"
	KindConditionalCheckFailed Kind = "CONDITIONAL_CHECK_FAILED"
	KindLimitExceeded       Kind = "LIMIT_EXCEEDED"
	KindIteratorExpired     Kind = "ITERATOR_EXPIRED"
	KindCancelled           Kind = "CANCELLED"
)

// Error is the single error type used across the core. Op names the
// operation that failed (e.g. "sharedtable.GetItem"); Cause, when
// present, is the underlying error this one wraps.
type Error struct {
	Kind  Kind
	Op    string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error, wrapping cause (if non-nil) with
// github.com/pkg/errors so Cause() / stack context is preserved when the
// underlying error originates from an external collaborator.
func New(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = pkgerrors.Wrap(cause, op)
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf extracts the Kind carried by err, or "" if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
