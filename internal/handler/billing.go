// Package handler contains the HTTP handlers for the Kerf API.
//
// This file implements the billing session endpoints. They hand the
// application backend a Stripe-hosted URL; subscription state itself only
// changes when the resulting webhooks arrive.
//
// Routes handled:
//   - POST /api/v1/billing/checkout   -> CreateCheckout
//   - POST /api/v1/billing/portal     -> OpenPortal
//   - POST /api/v1/billing/cancel     -> CancelSubscription
//   - POST /api/v1/billing/reactivate -> ReactivateSubscription
package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/kerf/internal/billing"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/service"
)

// BillingHandler handles billing and subscription management requests.
type BillingHandler struct {
	billing       billing.Service
	subscriptions service.SubscriptionService
	baseURL       string
	prices        billing.PriceConfig
	logger        *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured (development mode).
func NewBillingHandler(billingService billing.Service, subscriptions service.SubscriptionService, baseURL string, prices billing.PriceConfig, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing:       billingService,
		subscriptions: subscriptions,
		baseURL:       baseURL,
		prices:        prices,
		logger:        logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/billing/checkout", protect(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/v1/billing/portal", protect(http.HandlerFunc(h.OpenPortal)))
	mux.Handle("POST /api/v1/billing/cancel", protect(http.HandlerFunc(h.CancelSubscription)))
	mux.Handle("POST /api/v1/billing/reactivate", protect(http.HandlerFunc(h.ReactivateSubscription)))
}

// CheckoutRequest is the body of POST /api/v1/billing/checkout.
type CheckoutRequest struct {
	UserID     string `json:"user_id" validate:"required,max=128"`
	Email      string `json:"email" validate:"omitempty,email"`
	Tier       string `json:"tier" validate:"required,oneof=starter maker pro"`
	Interval   string `json:"interval" validate:"required,oneof=monthly yearly"`
	SuccessURL string `json:"success_url" validate:"omitempty,http_url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,http_url"`
}

// UserRequest names the user a billing action is for.
type UserRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	ReturnURL string `json:"return_url" validate:"omitempty,http_url"`
}

// URLResponse carries a Stripe-hosted page to send the user to.
type URLResponse struct {
	URL string `json:"url"`
}

// CreateCheckout starts a Stripe Checkout session for a paid tier. The
// session carries the user id in client_reference_id and metadata so the
// checkout.session.completed webhook can link the subscription.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "billing.checkout"

	if !h.configured(w, r, op) {
		return
	}

	var req CheckoutRequest
	if !h.decode(w, r, op, &req, &req.UserID) {
		return
	}

	tier := domain.Tier(req.Tier)
	priceID, ok := h.prices.PriceFor(tier, billing.Interval(req.Interval))
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No price is configured for that plan"))
		return
	}

	params := billing.CheckoutParams{
		UserID:        req.UserID,
		CustomerEmail: req.Email,
		Tier:          tier,
		PriceID:       priceID,
		SuccessURL:    orDefault(req.SuccessURL, h.baseURL+"/settings/billing?checkout=success"),
		CancelURL:     orDefault(req.CancelURL, h.baseURL+"/settings/billing"),
	}

	// A second paid subscription would leave two rows competing for the
	// user's tier; plan changes go through the portal instead.
	current, err := h.subscriptions.GetSubscription(r.Context(), req.UserID)
	switch {
	case err == nil && current.Status.Entitled():
		ErrorResponse(w, r, h.logger, domain.Conflict(op, "You already have an active subscription. Change plans from the billing portal."))
		return
	case err != nil && domain.ErrorCode(err) != domain.ENOTFOUND:
		ErrorResponse(w, r, h.logger, err)
		return
	}

	// Reuse the existing customer so invoices stay on one account.
	customer, err := h.subscriptions.GetCustomer(r.Context(), req.UserID)
	switch {
	case err == nil:
		params.CustomerID = customer.StripeCustomerID
	case domain.ErrorCode(err) != domain.ENOTFOUND:
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateCheckoutSession(params)
	if err != nil {
		h.logger.Error("failed to create checkout session", "error", err, "user_id", req.UserID)
		ErrorResponse(w, r, h.logger, domain.Upstream(err, op, "Failed to create checkout session"))
		return
	}

	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// OpenPortal creates a Stripe Customer Portal session.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	const op = "billing.portal"

	if !h.configured(w, r, op) {
		return
	}

	var req UserRequest
	if !h.decode(w, r, op, &req, &req.UserID) {
		return
	}

	customer, err := h.subscriptions.GetCustomer(r.Context(), req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreatePortalSession(customer.StripeCustomerID, orDefault(req.ReturnURL, h.baseURL+"/settings/billing"))
	if err != nil {
		h.logger.Error("failed to create portal session", "error", err, "user_id", req.UserID)
		ErrorResponse(w, r, h.logger, domain.Upstream(err, op, "Failed to open billing portal"))
		return
	}

	writeJSON(w, http.StatusOK, URLResponse{URL: url})
}

// CancelSubscription schedules cancellation at the end of the period.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, "billing.cancel", true)
}

// ReactivateSubscription clears a scheduled cancellation.
func (h *BillingHandler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.setCancelAtPeriodEnd(w, r, "billing.reactivate", false)
}

func (h *BillingHandler) setCancelAtPeriodEnd(w http.ResponseWriter, r *http.Request, op string, cancel bool) {
	if !h.configured(w, r, op) {
		return
	}

	var req UserRequest
	if !h.decode(w, r, op, &req, &req.UserID) {
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if sub.IsCanceled() || sub.StripeSubscriptionID == "" {
		ErrorResponse(w, r, h.logger, domain.Conflict(op, "The subscription is not active"))
		return
	}

	if cancel {
		err = h.billing.CancelSubscription(sub.StripeSubscriptionID)
	} else {
		err = h.billing.ReactivateSubscription(sub.StripeSubscriptionID)
	}
	if err != nil {
		h.logger.Error("failed to update subscription", "op", op, "error", err, "user_id", req.UserID)
		ErrorResponse(w, r, h.logger, domain.Upstream(err, op, "Failed to update subscription. Please try again."))
		return
	}

	// The stored row changes when customer.subscription.updated arrives.
	w.WriteHeader(http.StatusAccepted)
}

func (h *BillingHandler) configured(w http.ResponseWriter, r *http.Request, op string) bool {
	if h.billing != nil {
		return true
	}
	h.logger.Warn("billing request but Stripe is not configured", "op", op)
	ErrorResponse(w, r, h.logger, domain.Errorf(domain.ENOTIMPL, op, "Billing is not configured"))
	return false
}

// decode reads and validates a body. *userID defaults to the acting user and
// must match it when both are set.
func (h *BillingHandler) decode(w http.ResponseWriter, r *http.Request, op string, dst any, userID *string) bool {
	if err := decodeJSON(w, r, op, dst); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return false
	}
	if err := actingUser(r, op, userID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return false
	}
	if err := validateStruct(op, dst); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return false
	}
	return true
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
