package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/service"
)

// SubscriptionHandler exposes the read side of the subscription store.
//
// Routes:
//   - GET /api/v1/subscriptions/{userID}          -> GetSubscription
//   - GET /api/v1/subscriptions/{userID}/invoices -> ListInvoices
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
	catalog       *catalog.Catalog
	logger        *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subscriptions service.SubscriptionService, cat *catalog.Catalog, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptions: subscriptions,
		catalog:       cat,
		logger:        logger,
	}
}

// RegisterRoutes registers subscription routes on the provided mux.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/subscriptions/{userID}", protect(http.HandlerFunc(h.GetSubscription)))
	mux.Handle("GET /api/v1/subscriptions/{userID}/invoices", protect(http.HandlerFunc(h.ListInvoices)))
}

// SubscriptionResponse is the JSON form of a subscription plus the tier and
// entitlements that currently apply.
type SubscriptionResponse struct {
	UserID        string            `json:"user_id"`
	EffectiveTier string            `json:"effective_tier"`
	Entitlements  map[string]bool   `json:"entitlements"`
	Subscription  *SubscriptionJSON `json:"subscription"`
}

// SubscriptionJSON mirrors domain.Subscription.
type SubscriptionJSON struct {
	ID                   string     `json:"id"`
	StripeCustomerID     string     `json:"stripe_customer_id"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	CanceledAt           *time.Time `json:"canceled_at,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// InvoiceJSON mirrors domain.Invoice.
type InvoiceJSON struct {
	StripeInvoiceID  string     `json:"stripe_invoice_id"`
	AmountDue        int64      `json:"amount_due"`
	AmountPaid       int64      `json:"amount_paid"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	PeriodStart      *time.Time `json:"period_start,omitempty"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"`
	HostedInvoiceURL string     `json:"hosted_invoice_url,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// GetSubscription returns the user's latest subscription. A user who never
// subscribed gets 200 with a null subscription and the free tier.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	sub, err := h.subscriptions.GetSubscription(r.Context(), userID)
	if err != nil && domain.ErrorCode(err) != domain.ENOTFOUND {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	tier := sub.EffectiveTier()
	resp := SubscriptionResponse{
		UserID:        userID,
		EffectiveTier: string(tier),
		Entitlements:  make(map[string]bool),
	}
	for _, e := range []domain.Entitlement{domain.EntitlementPremiumTemplates, domain.EntitlementCommercialLicense} {
		resp.Entitlements[string(e)] = h.catalog.HasEntitlement(tier, e)
	}
	if sub != nil {
		resp.Subscription = &SubscriptionJSON{
			ID:                   sub.ID.String(),
			StripeCustomerID:     sub.StripeCustomerID,
			StripeSubscriptionID: sub.StripeSubscriptionID,
			Tier:                 string(sub.Tier),
			Status:               string(sub.Status),
			CurrentPeriodStart:   sub.CurrentPeriodStart,
			CurrentPeriodEnd:     sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
			TrialEnd:             sub.TrialEnd,
			CanceledAt:           sub.CanceledAt,
			UpdatedAt:            sub.UpdatedAt,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListInvoices returns the user's most recent invoices. ?limit caps the
// count (default 20, max 100).
func (h *SubscriptionHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			ErrorResponse(w, r, h.logger, domain.Invalid("subscription.list_invoices", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	invoices, err := h.subscriptions.ListInvoices(r.Context(), userID, limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	out := make([]InvoiceJSON, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, InvoiceJSON{
			StripeInvoiceID:  inv.StripeInvoiceID,
			AmountDue:        inv.AmountDue,
			AmountPaid:       inv.AmountPaid,
			Currency:         inv.Currency,
			Status:           string(inv.Status),
			PeriodStart:      inv.PeriodStart,
			PeriodEnd:        inv.PeriodEnd,
			HostedInvoiceURL: inv.HostedInvoiceURL,
			CreatedAt:        inv.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": out})
}
