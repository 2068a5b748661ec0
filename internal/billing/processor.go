package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sqlc-dev/pqtype"
	"github.com/stripe/stripe-go/v79"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/metrics"
	"github.com/DukeRupert/kerf/internal/repository"
	"github.com/DukeRupert/kerf/internal/service"
	"github.com/DukeRupert/kerf/internal/worker"
)

var tracer = otel.Tracer("github.com/DukeRupert/kerf/internal/billing")

// Outcome is how a delivered event was handled. Every outcome is
// acknowledged to the provider.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes a handled webhook delivery.
type Result struct {
	EventID   string
	EventType string
	Outcome   Outcome
	Reason    string // set when Outcome is ignored
}

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// ProcessorConfig tunes webhook handling.
type ProcessorConfig struct {
	// Timeout bounds the database work for one delivery so the provider
	// gets an error, and redelivers, instead of a hung connection.
	Timeout time.Duration

	// DedupCacheSize is the number of recently processed event ids kept in
	// memory. The webhook_events table stays authoritative.
	DedupCacheSize int

	// ArchivePayloads enqueues a job that moves each raw payload to object
	// storage after processing.
	ArchivePayloads bool
}

// DefaultProcessorConfig returns the production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Timeout:         10 * time.Second,
		DedupCacheSize:  4096,
		ArchivePayloads: true,
	}
}

// Processor applies verified provider events to subscriptions, customers and
// invoices. It is the only writer of those tables.
type Processor struct {
	db       *sql.DB
	queries  *repository.Queries
	verifier Verifier
	decoder  *Decoder
	seen     *lru.Cache[string, struct{}]
	config   ProcessorConfig
	logger   *slog.Logger
}

// NewProcessor creates a webhook processor.
func NewProcessor(
	db *sql.DB,
	queries *repository.Queries,
	verifier Verifier,
	decoder *Decoder,
	config ProcessorConfig,
	logger *slog.Logger,
) (*Processor, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultProcessorConfig().Timeout
	}
	if config.DedupCacheSize <= 0 {
		config.DedupCacheSize = DefaultProcessorConfig().DedupCacheSize
	}
	seen, err := lru.New[string, struct{}](config.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create dedup cache: %w", err)
	}
	return &Processor{
		db:       db,
		queries:  queries,
		verifier: verifier,
		decoder:  decoder,
		seen:     seen,
		config:   config,
		logger:   logger,
	}, nil
}

// HandleWebhook verifies, decodes and applies one delivery. It returns an
// ESIGNATURE error for unauthenticated payloads, EINVALID for payloads that
// cannot be decoded and EUNAVAILABLE when the state change could not be
// committed. Events are marked processed in the same transaction as the state
// they change, so a failed delivery is safe to redeliver.
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Result, error) {
	const op = "billing.handle_webhook"
	start := time.Now()

	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	ev, err := p.verifier.VerifyWebhookSignature(payload, signature)
	if err != nil {
		span.SetStatus(codes.Error, "invalid signature")
		metrics.WebhookHandled("", "rejected", time.Since(start))
		p.logger.Warn("Rejected webhook with invalid signature", "error", err)
		return nil, err
	}

	eventType := string(ev.Type)
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", eventType))
	logger := p.logger.With("event_id", ev.ID, "event_type", eventType)

	if p.seen.Contains(ev.ID) {
		logger.Debug("Duplicate webhook absorbed from cache")
		metrics.WebhookHandled(eventType, string(OutcomeDuplicate), time.Since(start))
		return &Result{EventID: ev.ID, EventType: eventType, Outcome: OutcomeDuplicate}, nil
	}

	decoded, err := p.decoder.Decode(ev)
	if err != nil {
		span.SetStatus(codes.Error, "decode failed")
		metrics.WebhookHandled(eventType, "rejected", time.Since(start))
		logger.Warn("Rejected undecodable webhook", "error", err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	result, err := p.process(ctx, decoded, payload, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		metrics.WebhookHandled(eventType, "failed", time.Since(start))
		logger.Error("Webhook processing failed", "error", err)
		return nil, err
	}

	p.seen.Add(ev.ID, struct{}{})
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	metrics.WebhookHandled(eventType, string(result.Outcome), time.Since(start))
	logger.Info("Webhook handled", "outcome", result.Outcome, "reason", result.Reason)
	return result, nil
}

func (p *Processor) process(ctx context.Context, ev Event, payload []byte, logger *slog.Logger) (*Result, error) {
	const op = "billing.process"
	meta := ev.Meta()
	result := &Result{EventID: meta.ID, EventType: meta.Type}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "begin transaction")
	}
	defer tx.Rollback()

	qtx := p.queries.WithTx(tx)

	// Concurrent deliveries of the same id serialize on the row lock; the
	// second one sees processed=true once the first commits.
	err = qtx.InsertWebhookEvent(ctx, repository.InsertWebhookEventParams{
		ID:        meta.ID,
		EventType: meta.Type,
		Payload:   pqtype.NullRawMessage{RawMessage: payload, Valid: len(payload) > 0},
	})
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "record webhook event")
	}
	row, err := qtx.GetWebhookEventForUpdate(ctx, meta.ID)
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "lock webhook event")
	}
	if row.Processed {
		result.Outcome = OutcomeDuplicate
		return result, nil
	}

	outcome, reason, err := p.apply(ctx, qtx, ev, logger)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	result.Reason = reason

	if p.config.ArchivePayloads && len(payload) > 0 {
		if _, err := worker.EnqueueArchiveWebhookEvent(ctx, qtx, meta.ID); err != nil {
			return nil, domain.StorageUnavailable(err, op, "enqueue payload archive")
		}
	}

	if err := qtx.MarkWebhookEventProcessed(ctx, meta.ID); err != nil {
		return nil, domain.StorageUnavailable(err, op, "mark webhook event processed")
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.StorageUnavailable(err, op, "commit webhook transaction")
	}
	return result, nil
}

// apply dispatches on the event variant. Side effects are enqueued as jobs on
// the same transaction so they run only if the state change commits.
func (p *Processor) apply(ctx context.Context, q *repository.Queries, ev Event, logger *slog.Logger) (Outcome, string, error) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return p.applyCheckout(ctx, q, e, logger)
	case SubscriptionChanged:
		return p.applySubscriptionChanged(ctx, q, e, logger)
	case SubscriptionDeleted:
		return p.applySubscriptionDeleted(ctx, q, e, logger)
	case SubscriptionTrialWillEnd:
		return p.applyTrialWillEnd(ctx, q, e)
	case InvoiceEvent:
		return p.applyInvoice(ctx, q, e, logger)
	case CustomerUpdated:
		return p.applyCustomerUpdated(ctx, q, e)
	case UnknownEvent:
		return OutcomeIgnored, "unhandled event type", nil
	default:
		return OutcomeIgnored, "unhandled event type", nil
	}
}

func (p *Processor) applyCheckout(ctx context.Context, q *repository.Queries, e CheckoutCompleted, logger *slog.Logger) (Outcome, string, error) {
	const op = "billing.apply_checkout"

	userID, err := resolveUser(ctx, q, e.UserID, e.CustomerID)
	if err != nil {
		return "", "", err
	}
	if userID == "" {
		logger.Warn("Checkout session has no linkable user", "customer_id", e.CustomerID)
		return OutcomeIgnored, "no user for customer", nil
	}
	e.UserID = userID

	if _, err := q.UpsertCustomer(ctx, repository.UpsertCustomerParams{
		StripeCustomerID: e.CustomerID,
		UserID:           userID,
		Email:            e.Email,
		Name:             e.Name,
	}); err != nil {
		return "", "", domain.StorageUnavailable(err, op, "upsert customer")
	}

	cur, err := lockSubscription(ctx, q, e.SubscriptionID)
	if err != nil {
		return "", "", err
	}
	t := TransitionCheckout(cur, e)
	if err := persist(ctx, q, t); err != nil {
		return "", "", err
	}
	if t.Action == ActionSkip {
		return OutcomeIgnored, t.Reason, nil
	}
	logger.Info("Checkout applied", "user_id", userID, "tier", t.Next.Tier, "action", t.Action)
	return OutcomeApplied, "", nil
}

func (p *Processor) applySubscriptionChanged(ctx context.Context, q *repository.Queries, e SubscriptionChanged, logger *slog.Logger) (Outcome, string, error) {
	const op = "billing.apply_subscription_changed"
	snap := e.Subscription

	cur, err := lockSubscription(ctx, q, snap.SubscriptionID)
	if err != nil {
		return "", "", err
	}

	userID := ""
	if cur != nil {
		userID = cur.UserID
	} else {
		userID, err = resolveUser(ctx, q, snap.UserID, snap.CustomerID)
		if err != nil {
			return "", "", err
		}
		if userID == "" {
			logger.Warn("Subscription event has no linkable user", "customer_id", snap.CustomerID)
			return OutcomeIgnored, "no user for customer", nil
		}
		if _, err := q.UpsertCustomer(ctx, repository.UpsertCustomerParams{
			StripeCustomerID: snap.CustomerID,
			UserID:           userID,
		}); err != nil {
			return "", "", domain.StorageUnavailable(err, op, "upsert customer")
		}
	}

	t := TransitionSubscriptionChanged(cur, userID, snap, e.Created)
	if err := persist(ctx, q, t); err != nil {
		return "", "", err
	}
	if t.Action == ActionSkip {
		logger.Info("Subscription update skipped", "reason", t.Reason, "subscription_id", snap.SubscriptionID)
		return OutcomeIgnored, t.Reason, nil
	}

	if cur != nil && !cur.IsCanceled() && t.Next.IsCanceled() {
		if err := enqueueEmail(ctx, q, worker.BillingEmailCanceled, e.ID, t.Next, nil); err != nil {
			return "", "", err
		}
	}
	logger.Info("Subscription updated", "user_id", userID, "status", t.Next.Status, "tier", t.Next.Tier)
	return OutcomeApplied, "", nil
}

func (p *Processor) applySubscriptionDeleted(ctx context.Context, q *repository.Queries, e SubscriptionDeleted, logger *slog.Logger) (Outcome, string, error) {
	cur, err := lockSubscription(ctx, q, e.Subscription.SubscriptionID)
	if err != nil {
		return "", "", err
	}
	t := TransitionSubscriptionDeleted(cur, e.Subscription, e.Created)
	if err := persist(ctx, q, t); err != nil {
		return "", "", err
	}
	if t.Action == ActionSkip {
		return OutcomeIgnored, t.Reason, nil
	}
	if err := enqueueEmail(ctx, q, worker.BillingEmailCanceled, e.ID, t.Next, nil); err != nil {
		return "", "", err
	}
	logger.Info("Subscription canceled", "user_id", t.Next.UserID)
	return OutcomeApplied, "", nil
}

func (p *Processor) applyTrialWillEnd(ctx context.Context, q *repository.Queries, e SubscriptionTrialWillEnd) (Outcome, string, error) {
	cur, err := lockSubscription(ctx, q, e.Subscription.SubscriptionID)
	if err != nil {
		return "", "", err
	}
	if cur == nil {
		return OutcomeIgnored, ReasonNoRow, nil
	}
	if cur.IsCanceled() {
		return OutcomeIgnored, ReasonTerminal, nil
	}
	sub := *cur
	if e.Subscription.TrialEnd != nil {
		sub.TrialEnd = e.Subscription.TrialEnd
	}
	if err := enqueueEmail(ctx, q, worker.BillingEmailTrialEnding, e.ID, sub, nil); err != nil {
		return "", "", err
	}
	return OutcomeApplied, "", nil
}

func (p *Processor) applyInvoice(ctx context.Context, q *repository.Queries, e InvoiceEvent, logger *slog.Logger) (Outcome, string, error) {
	const op = "billing.apply_invoice"

	var cur *domain.Subscription
	var err error
	if e.SubscriptionID != "" {
		cur, err = lockSubscription(ctx, q, e.SubscriptionID)
		if err != nil {
			return "", "", err
		}
	}

	userID := ""
	if cur != nil {
		userID = cur.UserID
	} else if userID, err = resolveUser(ctx, q, "", e.CustomerID); err != nil {
		return "", "", err
	}

	if _, err := q.UpsertInvoice(ctx, repository.UpsertInvoiceParams{
		StripeInvoiceID:      e.InvoiceID,
		StripeCustomerID:     e.CustomerID,
		StripeSubscriptionID: domain.ToNullString(e.SubscriptionID),
		UserID:               domain.ToNullString(userID),
		AmountDue:            e.AmountDue,
		AmountPaid:           e.AmountPaid,
		Currency:             e.Currency,
		Status:               string(e.Status),
		PeriodStart:          domain.ToNullTime(e.PeriodStart),
		PeriodEnd:            domain.ToNullTime(e.PeriodEnd),
		HostedInvoiceUrl:     e.HostedInvoiceURL,
	}); err != nil {
		return "", "", domain.StorageUnavailable(err, op, "upsert invoice")
	}

	t := TransitionInvoice(cur, e)
	if err := persist(ctx, q, t); err != nil {
		return "", "", err
	}
	if t.Action == ActionSkip {
		// The invoice row itself was still recorded.
		return OutcomeApplied, "", nil
	}

	if e.Kind == InvoicePaymentFailed {
		if err := enqueueEmail(ctx, q, worker.BillingEmailPaymentFailed, e.ID, t.Next, &e); err != nil {
			return "", "", err
		}
	}
	logger.Info("Subscription status changed by invoice", "user_id", t.Next.UserID, "status", t.Next.Status)
	return OutcomeApplied, "", nil
}

func (p *Processor) applyCustomerUpdated(ctx context.Context, q *repository.Queries, e CustomerUpdated) (Outcome, string, error) {
	const op = "billing.apply_customer_updated"

	n, err := q.UpdateCustomerDetails(ctx, repository.UpdateCustomerDetailsParams{
		StripeCustomerID: e.CustomerID,
		Email:            e.Email,
		Name:             e.Name,
	})
	if err != nil {
		return "", "", domain.StorageUnavailable(err, op, "update customer")
	}
	if n > 0 {
		return OutcomeApplied, "", nil
	}
	if e.UserID == "" {
		return OutcomeIgnored, "unknown customer", nil
	}
	if _, err := q.UpsertCustomer(ctx, repository.UpsertCustomerParams{
		StripeCustomerID: e.CustomerID,
		UserID:           e.UserID,
		Email:            e.Email,
		Name:             e.Name,
	}); err != nil {
		return "", "", domain.StorageUnavailable(err, op, "upsert customer")
	}
	return OutcomeApplied, "", nil
}

// lockSubscription loads and row-locks the subscription with the given
// provider id. It returns nil when no row exists yet.
func lockSubscription(ctx context.Context, q *repository.Queries, stripeSubscriptionID string) (*domain.Subscription, error) {
	const op = "billing.lock_subscription"
	row, err := q.GetSubscriptionByStripeIDForUpdate(ctx, domain.ToNullString(stripeSubscriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.StorageUnavailable(err, op, "load subscription")
	}
	return service.SubscriptionToDomain(row), nil
}

// resolveUser prefers the user id carried in metadata and falls back to the
// customers table. An empty result means the event cannot be linked.
func resolveUser(ctx context.Context, q *repository.Queries, metadataUserID, customerID string) (string, error) {
	const op = "billing.resolve_user"
	if metadataUserID != "" {
		return metadataUserID, nil
	}
	c, err := q.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", domain.StorageUnavailable(err, op, "load customer")
	}
	return c.UserID, nil
}

func persist(ctx context.Context, q *repository.Queries, t Transition) error {
	const op = "billing.persist_subscription"
	n := t.Next
	switch t.Action {
	case ActionCreate:
		_, err := q.CreateSubscription(ctx, repository.CreateSubscriptionParams{
			UserID:               n.UserID,
			StripeCustomerID:     n.StripeCustomerID,
			StripeSubscriptionID: domain.ToNullString(n.StripeSubscriptionID),
			Tier:                 string(n.Tier),
			Status:               string(n.Status),
			CurrentPeriodStart:   domain.ToNullTime(n.CurrentPeriodStart),
			CurrentPeriodEnd:     domain.ToNullTime(n.CurrentPeriodEnd),
			CancelAtPeriodEnd:    n.CancelAtPeriodEnd,
			TrialEnd:             domain.ToNullTime(n.TrialEnd),
			CanceledAt:           domain.ToNullTime(n.CanceledAt),
			LastEventAt:          domain.ToNullTime(n.LastEventAt),
		})
		if err != nil {
			return domain.StorageUnavailable(err, op, "create subscription")
		}
	case ActionUpdate:
		_, err := q.UpdateSubscription(ctx, repository.UpdateSubscriptionParams{
			ID:                 n.ID,
			Tier:               string(n.Tier),
			Status:             string(n.Status),
			CurrentPeriodStart: domain.ToNullTime(n.CurrentPeriodStart),
			CurrentPeriodEnd:   domain.ToNullTime(n.CurrentPeriodEnd),
			CancelAtPeriodEnd:  n.CancelAtPeriodEnd,
			TrialEnd:           domain.ToNullTime(n.TrialEnd),
			CanceledAt:         domain.ToNullTime(n.CanceledAt),
			LastEventAt:        domain.ToNullTime(n.LastEventAt),
		})
		if err != nil {
			return domain.StorageUnavailable(err, op, "update subscription")
		}
	}
	return nil
}

func enqueueEmail(ctx context.Context, q *repository.Queries, kind worker.BillingEmailKind, eventID string, sub domain.Subscription, inv *InvoiceEvent) error {
	payload := worker.BillingEmailPayload{
		Kind:             kind,
		EventID:          eventID,
		UserID:           sub.UserID,
		StripeCustomerID: sub.StripeCustomerID,
		Tier:             string(sub.Tier),
		TrialEnd:         sub.TrialEnd,
		PeriodEnd:        sub.CurrentPeriodEnd,
	}
	if inv != nil {
		payload.AmountDue = inv.AmountDue
		payload.Currency = inv.Currency
		payload.HostedInvoiceURL = inv.HostedInvoiceURL
	}
	if _, err := worker.EnqueueBillingEmail(ctx, q, payload); err != nil {
		return domain.StorageUnavailable(err, "billing.enqueue_email", "enqueue billing email")
	}
	return nil
}
