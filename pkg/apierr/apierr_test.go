package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindPermissionDenied, "missing permission")
	assert.Equal(t, KindPermissionDenied, KindOf(err))

	// Wrapped errors keep their kind through fmt.Errorf chains.
	wrapped := fmt.Errorf("dispatch failed: %w", err)
	assert.Equal(t, KindPermissionDenied, KindOf(wrapped))

	// Unclassified errors default to internal.
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapPreservesKnownKind(t *testing.T) {
	orig := New(KindFailedPrecondition, "period is already locked")

	rewrapped := Wrap(orig, KindInternal, "failed to execute payroll.lock_period")

	// Known kinds must pass through unchanged.
	assert.Equal(t, KindFailedPrecondition, rewrapped.Kind)
	assert.Equal(t, "period is already locked", rewrapped.Message)
}

func TestWrapClassifiesUnknownError(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, KindInternal, "failed to execute admin.provision_tenant: connection reset")

	assert.Equal(t, KindInternal, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Message, "admin.provision_tenant")
}

func TestWithDetail(t *testing.T) {
	err := New(KindResourceExhausted, "rate limit exceeded").
		WithDetail("retry_after_seconds", 42).
		WithDetail("max_calls", 10)

	details := DetailsOf(err)
	assert.Equal(t, 42, details["retry_after_seconds"])
	assert.Equal(t, 10, details["max_calls"])
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthenticated:    http.StatusUnauthorized,
		KindPermissionDenied:   http.StatusForbidden,
		KindNotFound:           http.StatusNotFound,
		KindInvalidArgument:    http.StatusBadRequest,
		KindResourceExhausted:  http.StatusTooManyRequests,
		KindFailedPrecondition: http.StatusPreconditionFailed,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(kind), string(kind))
	}
}
