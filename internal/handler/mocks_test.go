package handler

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/kerf/internal/billing"
	"github.com/DukeRupert/kerf/internal/domain"
)

var errNotMocked = errors.New("not mocked")

type mockQuotaService struct {
	CheckQuotaFunc  func(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error)
	RecordUsageFunc func(ctx context.Context, userID string, feature domain.Feature) (*domain.UsageRecord, error)
	ConsumeFunc     func(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error)
	GetUsageFunc    func(ctx context.Context, userID string) (*domain.UsageSummary, error)
}

func (m *mockQuotaService) CheckQuota(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error) {
	if m.CheckQuotaFunc == nil {
		return nil, errNotMocked
	}
	return m.CheckQuotaFunc(ctx, userID, feature)
}

func (m *mockQuotaService) RecordUsage(ctx context.Context, userID string, feature domain.Feature) (*domain.UsageRecord, error) {
	if m.RecordUsageFunc == nil {
		return nil, errNotMocked
	}
	return m.RecordUsageFunc(ctx, userID, feature)
}

func (m *mockQuotaService) Consume(ctx context.Context, userID string, feature domain.Feature) (*domain.QuotaDecision, error) {
	if m.ConsumeFunc == nil {
		return nil, errNotMocked
	}
	return m.ConsumeFunc(ctx, userID, feature)
}

func (m *mockQuotaService) GetUsage(ctx context.Context, userID string) (*domain.UsageSummary, error) {
	if m.GetUsageFunc == nil {
		return nil, errNotMocked
	}
	return m.GetUsageFunc(ctx, userID)
}

type mockSubscriptionService struct {
	GetSubscriptionFunc func(ctx context.Context, userID string) (*domain.Subscription, error)
	GetCustomerFunc     func(ctx context.Context, userID string) (*domain.Customer, error)
	ListInvoicesFunc    func(ctx context.Context, userID string, limit int) ([]domain.Invoice, error)
}

func (m *mockSubscriptionService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	if m.GetSubscriptionFunc == nil {
		return nil, domain.NotFound("subscription.get", "subscription for user", userID)
	}
	return m.GetSubscriptionFunc(ctx, userID)
}

func (m *mockSubscriptionService) ResolveTier(ctx context.Context, userID string) (domain.Tier, error) {
	sub, err := m.GetSubscription(ctx, userID)
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		return domain.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	return sub.EffectiveTier(), nil
}

func (m *mockSubscriptionService) GetCustomer(ctx context.Context, userID string) (*domain.Customer, error) {
	if m.GetCustomerFunc == nil {
		return nil, domain.NotFound("subscription.get_customer", "customer for user", userID)
	}
	return m.GetCustomerFunc(ctx, userID)
}

func (m *mockSubscriptionService) ListInvoices(ctx context.Context, userID string, limit int) ([]domain.Invoice, error) {
	if m.ListInvoicesFunc == nil {
		return nil, nil
	}
	return m.ListInvoicesFunc(ctx, userID, limit)
}

type mockBillingService struct {
	CreateCheckoutSessionFunc  func(p billing.CheckoutParams) (string, error)
	CreatePortalSessionFunc    func(customerID, returnURL string) (string, error)
	CancelSubscriptionFunc     func(subscriptionID string) error
	ReactivateSubscriptionFunc func(subscriptionID string) error
}

func (m *mockBillingService) CreateCheckoutSession(p billing.CheckoutParams) (string, error) {
	if m.CreateCheckoutSessionFunc == nil {
		return "", errNotMocked
	}
	return m.CreateCheckoutSessionFunc(p)
}

func (m *mockBillingService) CreatePortalSession(customerID, returnURL string) (string, error) {
	if m.CreatePortalSessionFunc == nil {
		return "", errNotMocked
	}
	return m.CreatePortalSessionFunc(customerID, returnURL)
}

func (m *mockBillingService) CancelSubscription(subscriptionID string) error {
	if m.CancelSubscriptionFunc == nil {
		return errNotMocked
	}
	return m.CancelSubscriptionFunc(subscriptionID)
}

func (m *mockBillingService) ReactivateSubscription(subscriptionID string) error {
	if m.ReactivateSubscriptionFunc == nil {
		return errNotMocked
	}
	return m.ReactivateSubscriptionFunc(subscriptionID)
}

func (m *mockBillingService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, errNotMocked
}

type mockProcessor struct {
	HandleWebhookFunc func(ctx context.Context, payload []byte, signature string) (*billing.Result, error)
}

func (m *mockProcessor) HandleWebhook(ctx context.Context, payload []byte, signature string) (*billing.Result, error) {
	return m.HandleWebhookFunc(ctx, payload, signature)
}
