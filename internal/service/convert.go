package service

import (
	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/repository"
)

// SubscriptionToDomain converts a repository row to the domain type.
func SubscriptionToDomain(s repository.Subscription) *domain.Subscription {
	return &domain.Subscription{
		ID:                   s.ID,
		UserID:               s.UserID,
		StripeCustomerID:     s.StripeCustomerID,
		StripeSubscriptionID: domain.NullStringValue(s.StripeSubscriptionID),
		Tier:                 domain.Tier(s.Tier),
		Status:               domain.SubscriptionStatus(s.Status),
		CurrentPeriodStart:   domain.NullTimeValue(s.CurrentPeriodStart),
		CurrentPeriodEnd:     domain.NullTimeValue(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		TrialEnd:             domain.NullTimeValue(s.TrialEnd),
		CanceledAt:           domain.NullTimeValue(s.CanceledAt),
		LastEventAt:          domain.NullTimeValue(s.LastEventAt),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// CustomerToDomain converts a repository row to the domain type.
func CustomerToDomain(c repository.Customer) *domain.Customer {
	return &domain.Customer{
		StripeCustomerID: c.StripeCustomerID,
		UserID:           c.UserID,
		Email:            c.Email,
		Name:             c.Name,
		UpdatedAt:        c.UpdatedAt,
	}
}

// InvoiceToDomain converts a repository row to the domain type.
func InvoiceToDomain(i repository.Invoice) *domain.Invoice {
	return &domain.Invoice{
		ID:                   i.ID,
		StripeInvoiceID:      i.StripeInvoiceID,
		StripeCustomerID:     i.StripeCustomerID,
		StripeSubscriptionID: domain.NullStringValue(i.StripeSubscriptionID),
		UserID:               domain.NullStringValue(i.UserID),
		AmountDue:            i.AmountDue,
		AmountPaid:           i.AmountPaid,
		Currency:             i.Currency,
		Status:               domain.InvoiceStatus(i.Status),
		PeriodStart:          domain.NullTimeValue(i.PeriodStart),
		PeriodEnd:            domain.NullTimeValue(i.PeriodEnd),
		HostedInvoiceURL:     i.HostedInvoiceUrl,
		CreatedAt:            i.CreatedAt,
		UpdatedAt:            i.UpdatedAt,
	}
}
