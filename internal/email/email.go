// Package email sends the billing notifications customers receive when their
// subscription changes state: a failed payment, an expiring trial and a
// cancellation.
//
// Sends happen from background jobs, never inside a webhook transaction, so
// a mail server outage delays a notice but never rolls back billing state.
package email

import (
	"context"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending billing emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendPaymentFailedEmail tells a customer their renewal payment failed
	// and paid features are paused until it succeeds.
	SendPaymentFailedEmail(ctx context.Context, to string, n Notice) error

	// SendTrialEndingEmail warns a customer that their trial converts soon.
	SendTrialEndingEmail(ctx context.Context, to string, n Notice) error

	// SendSubscriptionCanceledEmail confirms a subscription has ended.
	SendSubscriptionCanceledEmail(ctx context.Context, to string, n Notice) error
}

// Notice carries the values rendered into a billing email.
type Notice struct {
	Name       string
	PlanName   string
	AmountDue  int64  // minor units
	Currency   string // ISO 4217, any case
	InvoiceURL string
	TrialEnd   *time.Time
	PeriodEnd  *time.Time
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

const (
	// DefaultFromEmail is the default sender email for billing emails.
	DefaultFromEmail = "billing@kerf.dev"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Kerf"
)
