// Package domain contains core business types and interfaces.
//
// This file defines the Subscription, Customer and Invoice types kept in sync
// with the payment provider. These types are separate from the repository
// models so business rules do not depend on sql.Null* plumbing.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the possible states of a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// Valid reports whether s is one of the stored statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete:
		return true
	default:
		return false
	}
}

// Entitled reports whether a subscription in this status grants its tier.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Subscription is a customer's paid plan as last reported by the provider.
//
// Rows are never hard-deleted; cancellation moves Status to canceled and a
// later checkout creates a new row.
type Subscription struct {
	ID                   uuid.UUID
	UserID               string
	StripeCustomerID     string
	StripeSubscriptionID string
	Tier                 Tier
	Status               SubscriptionStatus
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	TrialEnd             *time.Time
	CanceledAt           *time.Time
	LastEventAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EffectiveTier returns the tier whose limits apply right now. Anything other
// than an active or trialing subscription falls back to free.
func (s *Subscription) EffectiveTier() Tier {
	if s == nil || !s.Status.Entitled() || !s.Tier.Valid() {
		return TierFree
	}
	return s.Tier
}

// IsCanceled reports whether the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled
}

// Customer links a provider customer to an application user.
type Customer struct {
	StripeCustomerID string
	UserID           string
	Email            string
	Name             string
	UpdatedAt        time.Time
}

// InvoiceStatus represents the lifecycle of a billing-period invoice.
type InvoiceStatus string

const (
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusFailed InvoiceStatus = "failed"
)

// Invoice is a provider invoice mirrored locally for display.
type Invoice struct {
	ID                   uuid.UUID
	StripeInvoiceID      string
	StripeCustomerID     string
	StripeSubscriptionID string
	UserID               string
	AmountDue            int64
	AmountPaid           int64
	Currency             string
	Status               InvoiceStatus
	PeriodStart          *time.Time
	PeriodEnd            *time.Time
	HostedInvoiceURL     string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
