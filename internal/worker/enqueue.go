package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/kerf/internal/repository"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeBillingEmail        = "billing_email"
	JobTypeArchiveWebhookEvent = "archive_webhook_event"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// BillingEmailKind selects the notification template.
type BillingEmailKind string

const (
	BillingEmailPaymentFailed BillingEmailKind = "payment_failed"
	BillingEmailTrialEnding   BillingEmailKind = "trial_ending"
	BillingEmailCanceled      BillingEmailKind = "subscription_canceled"
)

// BillingEmailPayload is the payload for billing notification jobs. The
// recipient is looked up from the customers table when the job runs so a
// customer.updated event that lands in between is honoured.
type BillingEmailPayload struct {
	Kind             BillingEmailKind `json:"kind"`
	EventID          string           `json:"event_id"`
	UserID           string           `json:"user_id"`
	StripeCustomerID string           `json:"stripe_customer_id"`
	Tier             string           `json:"tier,omitempty"`
	AmountDue        int64            `json:"amount_due,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	HostedInvoiceURL string           `json:"hosted_invoice_url,omitempty"`
	TrialEnd         *time.Time       `json:"trial_end,omitempty"`
	PeriodEnd        *time.Time       `json:"period_end,omitempty"`
}

// ArchiveWebhookEventPayload is the payload for raw webhook archive jobs.
type ArchiveWebhookEventPayload struct {
	EventID string `json:"event_id"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
// Pass a transaction-scoped Queries to make the job part of a larger write.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}

	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// EnqueueBillingEmail enqueues a customer notification about a billing event.
// Emails are retried more often than the default since providers throttle.
func EnqueueBillingEmail(
	ctx context.Context,
	queries *repository.Queries,
	payload BillingEmailPayload,
	opts ...EnqueueOption,
) (repository.Job, error) {
	opts = append([]EnqueueOption{WithPriority(PriorityHigh), WithMaxAttempts(5)}, opts...)
	return EnqueueJob(ctx, queries, JobTypeBillingEmail, payload, opts...)
}

// EnqueueArchiveWebhookEvent enqueues a job that moves a processed event's
// raw payload to object storage.
func EnqueueArchiveWebhookEvent(
	ctx context.Context,
	queries *repository.Queries,
	eventID string,
	opts ...EnqueueOption,
) (repository.Job, error) {
	opts = append([]EnqueueOption{WithPriority(PriorityLow)}, opts...)
	return EnqueueJob(ctx, queries, JobTypeArchiveWebhookEvent, ArchiveWebhookEventPayload{EventID: eventID}, opts...)
}
