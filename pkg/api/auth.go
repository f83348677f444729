package api

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/shiftworks/gatekeeper/pkg/apierr"
	"github.com/shiftworks/gatekeeper/pkg/httputil"
	"github.com/shiftworks/gatekeeper/pkg/observability"
)

// Verifier turns a bearer token into a principal id. The gateway in front of
// this service owns session issuance; the verifier only needs to map a token
// to the caller it was minted for.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// StaticTokenVerifier maps pre-shared tokens to principal ids. Suitable for
// service-to-service deployments and tests; production deployments plug in a
// gateway-backed verifier instead.
type StaticTokenVerifier struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewStaticTokenVerifier creates a verifier over a token -> principal map.
func NewStaticTokenVerifier(tokens map[string]string) *StaticTokenVerifier {
	copied := make(map[string]string, len(tokens))
	for token, principalID := range tokens {
		copied[token] = principalID
	}
	return &StaticTokenVerifier{tokens: copied}
}

// Verify resolves a token to its principal id.
func (v *StaticTokenVerifier) Verify(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	principalID, ok := v.tokens[token]
	if !ok {
		return "", apierr.New(apierr.KindUnauthenticated, "invalid token")
	}
	return principalID, nil
}

// AddToken registers a token at runtime. Tests and tooling only.
func (v *StaticTokenVerifier) AddToken(token, principalID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = principalID
}

// AuthMiddleware extracts the bearer token, verifies it, and stores the
// principal id on the request context. Requests without a valid token are
// rejected before they reach any handler.
func AuthMiddleware(verifier Verifier, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.WriteError(w, logger, apierr.New(apierr.KindUnauthenticated, "authorization header required"))
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httputil.WriteError(w, logger, apierr.New(apierr.KindUnauthenticated, "authorization header must be a bearer token"))
				return
			}

			principalID, err := verifier.Verify(r.Context(), token)
			if err != nil {
				httputil.WriteError(w, logger, err)
				return
			}

			ctx := observability.WithPrincipalID(r.Context(), principalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
