package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/kerf/internal/auth"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/handler"
	"github.com/DukeRupert/kerf/internal/service"
)

// UserIDFunc extracts the user a gated request is charged to.
type UserIDFunc func(r *http.Request) string

// UserIDFromContext charges the acting user set by RequireToken.
func UserIDFromContext(r *http.Request) string {
	return auth.GetUserIDFromRequest(r)
}

// UserIDFromPath charges the user named by a path wildcard.
func UserIDFromPath(name string) UserIDFunc {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// QuotaMiddleware gates routes behind a metered feature.
type QuotaMiddleware struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaMiddleware creates a new QuotaMiddleware.
func NewQuotaMiddleware(quota service.QuotaService, logger *slog.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		quota:  quota,
		logger: logger,
	}
}

// RequireQuota consumes one use of feature before calling next. The use is
// counted whether or not next succeeds. A user over quota gets 402 and a
// storage failure gets 503; next is never called in either case.
func (m *QuotaMiddleware) RequireQuota(feature domain.Feature, userID UserIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := userID(r)
			if id == "" {
				handler.ErrorResponse(w, r, m.logger, domain.Invalid("quota.gate", "A user id is required"))
				return
			}

			if _, err := m.quota.Consume(r.Context(), id, feature); err != nil {
				handler.ErrorResponse(w, r, m.logger, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
