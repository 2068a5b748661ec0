// Package handler contains the HTTP handlers for the Kerf API.
//
// This file implements the Stripe webhook endpoint.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no token middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/kerf/internal/billing"
	"github.com/DukeRupert/kerf/internal/domain"
)

// maxWebhookBytes bounds a webhook body. Stripe events are well under this.
const maxWebhookBytes = 256 << 10

// WebhookProcessor applies a signed provider delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Result, error)
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and applies one delivery. Applied, duplicate
// and ignored events all get 200 so Stripe stops retrying; a storage
// failure gets 503 so it retries later.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "webhook.stripe"

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			ErrorResponse(w, r, h.logger, domain.Errorf(domain.ETOOLARGE, op, "Webhook body is too large"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Webhook body could not be read"))
		return
	}

	result, err := h.processor.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"id":       result.EventID,
		"outcome":  result.Outcome,
	})
}
