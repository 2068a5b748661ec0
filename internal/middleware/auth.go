// Package middleware contains HTTP middleware for the Kerf API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/kerf/internal/auth"
	"github.com/DukeRupert/kerf/internal/handler"
)

// =============================================================================
// Service Token Middleware
// =============================================================================

// TokenAuthMiddleware authenticates the application backend that calls the
// /api/v1 routes with a shared bearer token.
type TokenAuthMiddleware struct {
	token  []byte
	logger *slog.Logger
}

// NewTokenAuthMiddleware creates a new TokenAuthMiddleware.
//
// An empty token disables authentication; main refuses to start that way
// outside development.
func NewTokenAuthMiddleware(token string, logger *slog.Logger) *TokenAuthMiddleware {
	return &TokenAuthMiddleware{
		token:  []byte(token),
		logger: logger,
	}
}

// RequireToken rejects requests without a valid bearer token with 401 and
// stores the X-User-ID header, if present, as the acting user.
//
// Flow:
//
//	Request -> RequireToken -> Handler
//	           |
//	           +-> Parse "Authorization: Bearer <token>"
//	           +-> Constant-time compare with the configured token
//	           +-> Set acting user id in context
func (m *TokenAuthMiddleware) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.token) > 0 {
			presented, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(presented), m.token) != 1 {
				m.logger.Warn("rejected service request",
					"path", r.URL.Path,
					"ip", getClientIP(r),
					"has_token", ok,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="kerf"`)
				handler.UnauthorizedResponse(w, r, m.logger)
				return
			}
		}

		if userID := strings.TrimSpace(r.Header.Get(auth.UserIDHeader)); userID != "" {
			r = r.WithContext(auth.SetUserID(r.Context(), userID))
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	api := Stack(rateLimit.Limit, tokenAuth.RequireToken)
//	mux.Handle("POST /api/v1/usage", api(usageHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Ensure middleware functions have correct signature
var _ func(http.Handler) http.Handler = (&TokenAuthMiddleware{}).RequireToken
