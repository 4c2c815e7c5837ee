// Package apperr defines the domain error taxonomy shared by all
// quiver components. Domain code raises *Error values; the API layer
// maps Kind to an HTTP status in exactly one place, so an absent
// resource is never reported as merely unavailable and an unavailable
// one is never reported as a permission problem.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for transport mapping.
type Kind int

const (
	// KindInternal is an unexpected failure. Full context goes to the
	// server logs; clients only see a generic message.
	KindInternal Kind = iota

	// KindNotFound means the referenced resource id is unknown.
	KindNotFound

	// KindConflict covers name collisions, illegal state transitions
	// and non-retryable task retries.
	KindConflict

	// KindUnavailable means the resource exists but its status
	// (disabled/deleted) blocks the requested use.
	KindUnavailable

	// KindGone marks a tombstoned document.
	KindGone

	// KindTooLarge rejects oversized uploads.
	KindTooLarge

	// KindUnsupportedMedia rejects uploads in a format outside the
	// supported set.
	KindUnsupportedMedia

	// KindValidation rejects malformed requests.
	KindValidation
)

// Detail is a field-level error detail attached to validation and
// reference failures.
type Detail struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is a structured domain error with a stable code and a
// human-readable message. It wraps an optional cause for errors.Is/As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []Detail
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by Kind and Code, allowing
// errors.Is(err, &Error{Kind: KindNotFound}) style checks when Code is
// empty on the target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail appends a field-level detail and returns the error for
// chaining.
func (e *Error) WithDetail(field, code, message string) *Error {
	e.Details = append(e.Details, Detail{Field: field, Code: code, Message: message})
	return e
}

// New creates a domain error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates a domain error around a cause.
func Wrap(err error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Internal wraps an unexpected failure. The cause is preserved for
// server-side logging and never serialized to clients.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: "INTERNAL_ERROR", Message: "internal error", Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal for
// non-domain errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As extracts a domain error from err, or wraps err as internal.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
