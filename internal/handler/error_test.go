package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serveError(err error) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("GET", "/api/v1/usage/u", nil), discardLogger(), err)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) JSONError {
	t.Helper()
	var body JSONError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestErrorResponse_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", domain.Invalid("op", "bad"), http.StatusBadRequest},
		{"signature", domain.InvalidSignature("op", errors.New("no match")), http.StatusBadRequest},
		{"unauthorized", domain.Unauthorized("op", "who"), http.StatusUnauthorized},
		{"not found", domain.NotFound("op", "subscription", "u"), http.StatusNotFound},
		{"conflict", domain.Conflict("op", "busy"), http.StatusConflict},
		{"rate limit", domain.RateLimit("op"), http.StatusTooManyRequests},
		{"upstream", domain.Upstream(errors.New("boom"), "op", "failed"), http.StatusBadGateway},
		{"unavailable", domain.StorageUnavailable(errors.New("dial"), "op", "down"), http.StatusServiceUnavailable},
		{"not configured", domain.Errorf(domain.ENOTIMPL, "op", "off"), http.StatusNotImplemented},
		{"raw error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveError(tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestErrorResponse_UnavailableSetsRetryAfter(t *testing.T) {
	rec := serveError(domain.StorageUnavailable(errors.New("dial"), "ledger.get", "Usage store unavailable"))
	if rec.Header().Get("Retry-After") == "" {
		t.Error("503 should carry Retry-After")
	}
}

func TestErrorResponse_QuotaBody(t *testing.T) {
	resetAt := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	rec := serveError(domain.QuotaExceeded("quota.consume", domain.FeatureAIGeneration, domain.WindowMonthly, 50, 50, resetAt))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	var body QuotaErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := body.Error
	if got.Code != domain.EQUOTA || got.Feature != "ai_generation" || got.Window != "monthly" {
		t.Errorf("body = %+v", got)
	}
	if got.Used != 50 || got.Limit != 50 {
		t.Errorf("used/limit = %d/%d, want 50/50", got.Used, got.Limit)
	}
	if !got.ResetAt.Equal(resetAt) {
		t.Errorf("reset_at = %v, want %v", got.ResetAt, resetAt)
	}
}

func TestErrorResponse_HidesInternalDetails(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		leaked []string
	}{
		{
			name:   "internal error",
			err:    domain.Internal(errors.New(`pq: relation "usage_records" does not exist`), "LedgerRepository.Get", "Database query failed"),
			leaked: []string{"pq:", "usage_records", "LedgerRepository"},
		},
		{
			name:   "raw error",
			err:    errors.New(`FATAL: password authentication failed for user "postgres"`),
			leaked: []string{"FATAL", "password", "postgres"},
		},
		{
			name:   "unavailable keeps op private",
			err:    domain.StorageUnavailable(errors.New("connection to 10.0.0.5:5432 refused"), "ledger.increment", "Usage store unavailable"),
			leaked: []string{"10.0.0.5", "5432", "ledger.increment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := serveError(tt.err).Body.String()
			for _, s := range tt.leaked {
				if strings.Contains(body, s) {
					t.Errorf("response leaks %q: %s", s, body)
				}
			}
		})
	}
}

func TestValidationErrorResponse(t *testing.T) {
	ve := domain.NewValidationError("QuotaHandler.CheckQuota", "feature", "is not a metered feature")
	rec := httptest.NewRecorder()
	ValidationErrorResponse(rec, httptest.NewRequest("POST", "/api/v1/quota/check", nil), discardLogger(), ve)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "QuotaHandler") {
		t.Errorf("response exposes operation name: %s", rec.Body.String())
	}
	body := decodeErrorBody(t, rec)
	if body.Error.Fields["feature"] != "is not a metered feature" {
		t.Errorf("fields = %v", body.Error.Fields)
	}
}
