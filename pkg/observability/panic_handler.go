package observability

import (
	"net/http"
	"runtime/debug"
)

// PanicRecoveryMiddleware recovers from panics in HTTP handlers, logs the
// stack trace, and returns a 500 response instead of crashing the process.
func PanicRecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					}).Error("Recovered from panic in HTTP handler")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"kind":"internal","message":"internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
