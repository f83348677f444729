// Package httputil holds the JSON response helpers and request middleware
// shared by the API handlers.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		// Encoding failures past WriteHeader can only be logged by the
		// caller's middleware; the status line is already gone.
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps an error to its HTTP status and writes the error body.
// ResourceExhausted responses carry a Retry-After header when the error
// details include retry_after_seconds.
func WriteError(w http.ResponseWriter, logger *observability.Logger, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	details := apierr.DetailsOf(err)

	message := err.Error()
	if kind == apierr.KindInternal {
		// Internal details stay in the logs, not on the wire.
		logger.WithError(err).Error("Request failed")
		message = "internal server error"
		details = nil
	}

	if kind == apierr.KindResourceExhausted {
		if retryAfter, ok := details["retry_after_seconds"].(int); ok && retryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		}
	}

	WriteJSON(w, status, ErrorBody{
		Kind:    string(kind),
		Message: message,
		Details: details,
	})
}
