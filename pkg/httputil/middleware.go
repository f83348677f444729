package httputil

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// maxBodyBytes caps request bodies; action inputs are small JSON documents.
const maxBodyBytes = 1 << 20

// RequestIDMiddleware assigns each request an id, honoring an inbound
// X-Request-ID from the gateway, and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := observability.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For entry set by the gateway.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// DecodeJSON reads and decodes a JSON request body.
func DecodeJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierr.Wrap(err, apierr.KindInvalidArgument, "failed to read request body")
	}
	if len(body) == 0 {
		return apierr.New(apierr.KindInvalidArgument, "request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierr.Wrap(err, apierr.KindInvalidArgument, "malformed JSON body")
	}
	return nil
}
