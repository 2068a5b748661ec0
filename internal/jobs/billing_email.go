// Package jobs contains the background job handlers run by the worker.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/email"
	"github.com/DukeRupert/kerf/internal/metrics"
	"github.com/DukeRupert/kerf/internal/repository"
	"github.com/DukeRupert/kerf/internal/worker"
)

// BillingEmailHandler sends the notification emails queued by the webhook
// processor. Email delivery lives here rather than in the webhook request so
// an SMTP outage never fails or delays subscription state changes.
type BillingEmailHandler struct {
	queries      *repository.Queries
	emailService email.EmailService
	catalog      *catalog.Catalog
	logger       *slog.Logger
}

// NewBillingEmailHandler creates a new handler for billing notification jobs.
func NewBillingEmailHandler(
	queries *repository.Queries,
	emailService email.EmailService,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *BillingEmailHandler {
	return &BillingEmailHandler{
		queries:      queries,
		emailService: emailService,
		catalog:      cat,
		logger:       logger,
	}
}

// Type returns the job type identifier.
func (h *BillingEmailHandler) Type() string {
	return worker.JobTypeBillingEmail
}

// Handle executes the billing email job.
func (h *BillingEmailHandler) Handle(ctx context.Context, payload []byte) error {
	p, err := worker.DecodePayload[worker.BillingEmailPayload](payload)
	if err != nil {
		return err
	}

	send, err := h.sender(p.Kind)
	if err != nil {
		return worker.NewPermanentError(err)
	}

	customer, err := h.lookupCustomer(ctx, p)
	if err != nil {
		return err
	}
	if customer.Email == "" {
		h.logger.Warn("Skipping billing email, customer has no email address",
			"event_id", p.EventID,
			"kind", p.Kind,
			"stripe_customer_id", customer.StripeCustomerID,
		)
		metrics.BillingEmail(string(p.Kind), "skipped")
		return nil
	}

	notice := email.Notice{
		Name:       customer.Name,
		PlanName:   h.planName(domain.Tier(p.Tier)),
		AmountDue:  p.AmountDue,
		Currency:   p.Currency,
		InvoiceURL: p.HostedInvoiceURL,
		TrialEnd:   p.TrialEnd,
		PeriodEnd:  p.PeriodEnd,
	}

	if err := send(ctx, customer.Email, notice); err != nil {
		metrics.BillingEmail(string(p.Kind), "error")
		return fmt.Errorf("send %s email: %w", p.Kind, err)
	}

	metrics.BillingEmail(string(p.Kind), "sent")
	h.logger.Info("Billing email sent",
		"event_id", p.EventID,
		"kind", p.Kind,
		"user_id", customer.UserID,
	)
	return nil
}

func (h *BillingEmailHandler) sender(kind worker.BillingEmailKind) (func(context.Context, string, email.Notice) error, error) {
	switch kind {
	case worker.BillingEmailPaymentFailed:
		return h.emailService.SendPaymentFailedEmail, nil
	case worker.BillingEmailTrialEnding:
		return h.emailService.SendTrialEndingEmail, nil
	case worker.BillingEmailCanceled:
		return h.emailService.SendSubscriptionCanceledEmail, nil
	default:
		return nil, fmt.Errorf("unknown billing email kind %q", kind)
	}
}

// lookupCustomer prefers the provider customer id and falls back to the user.
// A missing customer will not appear on retry, so it fails permanently.
func (h *BillingEmailHandler) lookupCustomer(ctx context.Context, p worker.BillingEmailPayload) (repository.Customer, error) {
	var (
		customer repository.Customer
		err      error
	)
	switch {
	case p.StripeCustomerID != "":
		customer, err = h.queries.GetCustomer(ctx, p.StripeCustomerID)
	case p.UserID != "":
		customer, err = h.queries.GetCustomerByUserID(ctx, p.UserID)
	default:
		return customer, worker.NewPermanentError(errors.New("payload has neither customer nor user id"))
	}

	if errors.Is(err, sql.ErrNoRows) {
		return customer, worker.NewPermanentError(fmt.Errorf("no customer for event %s", p.EventID))
	}
	if err != nil {
		return customer, fmt.Errorf("get customer: %w", err)
	}
	return customer, nil
}

func (h *BillingEmailHandler) planName(tier domain.Tier) string {
	if !tier.Valid() {
		return ""
	}
	if name := h.catalog.Definition(tier).DisplayName; name != "" {
		return name
	}
	return cases.Title(language.English).String(string(tier))
}

var _ worker.JobHandler = (*BillingEmailHandler)(nil)
