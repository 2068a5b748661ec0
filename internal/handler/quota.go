// Package handler contains the HTTP handlers for the Kerf API.
//
// This file implements the quota and usage endpoints called by the
// application backend.
//
// Routes handled:
//   - POST /api/v1/quota/check   -> CheckQuota
//   - POST /api/v1/usage         -> RecordUsage
//   - GET  /api/v1/usage/{userID} -> GetUsage
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/service"
)

// QuotaHandler serves quota decisions and usage snapshots.
type QuotaHandler struct {
	quota  service.QuotaService
	logger *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(quota service.QuotaService, logger *slog.Logger) *QuotaHandler {
	return &QuotaHandler{
		quota:  quota,
		logger: logger,
	}
}

// RegisterRoutes registers quota routes on the provided mux.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/quota/check", protect(http.HandlerFunc(h.CheckQuota)))
	mux.Handle("POST /api/v1/usage", protect(http.HandlerFunc(h.RecordUsage)))
	mux.Handle("GET /api/v1/usage/{userID}", protect(http.HandlerFunc(h.GetUsage)))
}

// FeatureRequest names a user and a metered feature. UserID may be omitted
// when the caller sends X-User-ID.
type FeatureRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	Feature string `json:"feature" validate:"required,feature"`
}

// LimitResponse is a tier limit; -1 means unlimited.
type LimitResponse struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

// DecisionResponse is the JSON form of a quota decision.
type DecisionResponse struct {
	Allowed      bool          `json:"allowed"`
	UserID       string        `json:"user_id"`
	Feature      string        `json:"feature"`
	Tier         string        `json:"tier"`
	Limit        LimitResponse `json:"limit"`
	DailyCount   int           `json:"daily_count"`
	MonthlyCount int           `json:"monthly_count"`
	Remaining    int           `json:"remaining"`
	Window       string        `json:"window,omitempty"`
	ResetAt      *time.Time    `json:"reset_at,omitempty"`
}

// UsageResponse is a counted use.
type UsageResponse struct {
	UserID       string    `json:"user_id"`
	Feature      string    `json:"feature"`
	Day          string    `json:"day"`
	DailyCount   int       `json:"daily_count"`
	MonthlyCount int       `json:"monthly_count"`
	LastResetAt  time.Time `json:"last_reset_at"`
}

// UsageSummaryResponse lists every feature for one user.
type UsageSummaryResponse struct {
	UserID   string             `json:"user_id"`
	Tier     string             `json:"tier"`
	Day      string             `json:"day"`
	Features []DecisionResponse `json:"features"`
}

// CheckQuota answers whether the user may use the feature now without
// counting anything. A denial is a 200 with allowed=false.
func (h *QuotaHandler) CheckQuota(w http.ResponseWriter, r *http.Request) {
	req, ok := h.featureRequest(w, r, "quota.check")
	if !ok {
		return
	}

	decision, err := h.quota.CheckQuota(r.Context(), req.UserID, domain.Feature(req.Feature))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionResponse(decision))
}

// RecordUsage counts one use without checking the limit.
func (h *QuotaHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.featureRequest(w, r, "usage.record")
	if !ok {
		return
	}

	record, err := h.quota.RecordUsage(r.Context(), req.UserID, domain.Feature(req.Feature))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, UsageResponse{
		UserID:       record.UserID,
		Feature:      string(record.Feature),
		Day:          record.Day.Format(time.DateOnly),
		DailyCount:   record.DailyCount,
		MonthlyCount: record.MonthlyCount,
		LastResetAt:  record.LastResetAt,
	})
}

// GetUsage returns the dashboard snapshot for every metered feature.
func (h *QuotaHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	summary, err := h.quota.GetUsage(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := UsageSummaryResponse{
		UserID:   summary.UserID,
		Tier:     string(summary.Tier),
		Day:      summary.Day.Format(time.DateOnly),
		Features: make([]DecisionResponse, 0, len(summary.Features)),
	}
	for i := range summary.Features {
		resp.Features = append(resp.Features, toDecisionResponse(&summary.Features[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *QuotaHandler) featureRequest(w http.ResponseWriter, r *http.Request, op string) (FeatureRequest, bool) {
	var req FeatureRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return req, false
	}
	if err := actingUser(r, op, &req.UserID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return req, false
	}
	if err := validateStruct(op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return req, false
	}
	return req, true
}

func toDecisionResponse(d *domain.QuotaDecision) DecisionResponse {
	resp := DecisionResponse{
		Allowed:      d.Allowed,
		UserID:       d.UserID,
		Feature:      string(d.Feature),
		Tier:         string(d.Tier),
		Limit:        LimitResponse{Daily: d.Limit.Daily, Monthly: d.Limit.Monthly},
		DailyCount:   d.Usage.DailyCount,
		MonthlyCount: d.Usage.MonthlyCount,
		Remaining:    d.Remaining,
		Window:       string(d.Window),
	}
	if !d.ResetAt.IsZero() {
		resetAt := d.ResetAt
		resp.ResetAt = &resetAt
	}
	return resp
}
