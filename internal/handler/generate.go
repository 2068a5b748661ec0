package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/kerf/internal/ai"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/service"
)

// GenerateHandler runs a metered AI generation.
//
// Route:
//   - POST /api/v1/generate -> Generate
type GenerateHandler struct {
	quota    service.QuotaService
	provider ai.AIProvider
	logger   *slog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(quota service.QuotaService, provider ai.AIProvider, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{
		quota:    quota,
		provider: provider,
		logger:   logger,
	}
}

// RegisterRoutes registers the generate route on the provided mux.
func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/generate", protect(http.HandlerFunc(h.Generate)))
}

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Feature   string `json:"feature" validate:"required,oneof=ai_generation gcode_generation"`
	Prompt    string `json:"prompt" validate:"required,min=3,max=4000"`
	MaxTokens int    `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=8192"`
}

// GenerateResponse carries the provider output and the quota left after
// this use.
type GenerateResponse struct {
	Output       string `json:"output"`
	Feature      string `json:"feature"`
	Remaining    int    `json:"remaining"`
	Model        string `json:"model,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Generate validates the request, consumes one use and calls the provider.
// Input errors are rejected before quota is touched. A provider failure
// after a successful consume returns 502 and the use stays counted.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	const op = "generate"

	var req GenerateRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := actingUser(r, op, &req.UserID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if err := validateStruct(op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	feature := domain.Feature(req.Feature)
	decision, err := h.quota.Consume(r.Context(), req.UserID, feature)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.provider.Generate(r.Context(), ai.GenerateParams{
		UserID:    req.UserID,
		Feature:   feature,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		h.logger.Warn("generation failed after quota was consumed",
			"user_id", req.UserID,
			"feature", feature,
			"error", err,
		)
		message := "The generation service failed. Please try again."
		if errors.Is(err, ai.EAIContentPolicy) {
			message = "The prompt was rejected by the content policy."
		}
		ErrorResponse(w, r, h.logger, domain.Upstream(err, op, message))
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		Output:       result.Output,
		Feature:      string(feature),
		Remaining:    decision.Remaining,
		Model:        result.Usage.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	})
}
