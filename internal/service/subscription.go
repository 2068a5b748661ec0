package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/repository"
)

// SubscriptionService is the read side of the subscription store. Writes go
// exclusively through the billing event processor.
type SubscriptionService interface {
	// GetSubscription returns the user's current subscription, or an
	// ENOTFOUND error when the user never subscribed. An active or trialing
	// row wins over any newer row, so a second checkout that never completed
	// does not hide the plan the user is paying for.
	GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error)

	// ResolveTier returns the tier whose limits apply now. A missing
	// subscription resolves to free; a storage failure is an error.
	ResolveTier(ctx context.Context, userID string) (domain.Tier, error)

	// GetCustomer returns the payment provider customer linked to the user.
	GetCustomer(ctx context.Context, userID string) (*domain.Customer, error)

	// ListInvoices returns the user's most recent invoices, newest first.
	ListInvoices(ctx context.Context, userID string, limit int) ([]domain.Invoice, error)
}

type subscriptionService struct {
	queries *repository.Queries
	logger  *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(queries *repository.Queries, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		queries: queries,
		logger:  logger,
	}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	const op = "subscription.get"

	row, err := s.queries.GetCurrentSubscriptionByUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "subscription for user", userID)
	}
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "Subscription could not be loaded")
	}
	return SubscriptionToDomain(row), nil
}

func (s *subscriptionService) ResolveTier(ctx context.Context, userID string) (domain.Tier, error) {
	sub, err := s.GetSubscription(ctx, userID)
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		return domain.TierFree, nil
	}
	if err != nil {
		return "", err
	}

	tier := sub.EffectiveTier()
	if tier != sub.Tier {
		s.logger.Debug("subscription not entitled, using free limits",
			"user_id", userID,
			"tier", sub.Tier,
			"status", sub.Status,
		)
	}
	return tier, nil
}

func (s *subscriptionService) GetCustomer(ctx context.Context, userID string) (*domain.Customer, error) {
	const op = "subscription.get_customer"

	row, err := s.queries.GetCustomerByUserID(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "customer for user", userID)
	}
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "Customer could not be loaded")
	}
	return CustomerToDomain(row), nil
}

func (s *subscriptionService) ListInvoices(ctx context.Context, userID string, limit int) ([]domain.Invoice, error) {
	const op = "subscription.list_invoices"

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.queries.ListInvoicesByUser(ctx, repository.ListInvoicesByUserParams{
		UserID: domain.ToNullString(userID),
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "Invoices could not be loaded")
	}

	out := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, *InvoiceToDomain(r))
	}
	return out, nil
}

// Compile-time interface checks
var (
	_ SubscriptionService = (*subscriptionService)(nil)
	_ TierResolver        = (*subscriptionService)(nil)
)
