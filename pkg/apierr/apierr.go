// Package apierr defines the closed error taxonomy shared by every layer of
// the privileged action pipeline. Errors with a known Kind pass through all
// layers unchanged; anything else is wrapped as KindInternal at the dispatcher
// boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the pipeline's closed taxonomy.
type Kind string

const (
	// KindUnauthenticated indicates no principal was present on the request.
	KindUnauthenticated Kind = "unauthenticated"

	// KindPermissionDenied indicates the principal record is missing,
	// inactive, or lacks a required permission.
	KindPermissionDenied Kind = "permission_denied"

	// KindNotFound indicates an unknown action or a missing entity.
	KindNotFound Kind = "not_found"

	// KindInvalidArgument indicates malformed or missing input fields.
	KindInvalidArgument Kind = "invalid_argument"

	// KindResourceExhausted indicates a rate-limit threshold was reached.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindFailedPrecondition indicates a business-rule violation, such as
	// locking a payroll period that is already locked.
	KindFailedPrecondition Kind = "failed_precondition"

	// KindInternal indicates an unexpected or unclassified failure.
	KindInternal Kind = "internal"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string

	// Details carries machine-readable context, e.g. retry information on
	// resource_exhausted errors.
	Details map[string]interface{}

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error with the given kind and a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under the given kind, preserving it as
// the cause. If err is already an *Error it is returned unchanged so known
// kinds propagate without re-classification.
func Wrap(err error, kind Kind, message string) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailsOf returns the details map of err, or nil for unclassified errors.
func DetailsOf(err error) map[string]interface{} {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Details
	}
	return nil
}

// HTTPStatus maps a kind to its HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
