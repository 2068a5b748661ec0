// Package billing keeps local subscription state in sync with Stripe.
//
// stripe.go wraps the Stripe API calls the service makes on a user's behalf
// (checkout, customer portal, cancel/reactivate) and webhook signature
// verification. State changes never happen here: they arrive later as
// webhook events and are applied by the Processor.
package billing

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/DukeRupert/kerf/internal/domain"
)

// Metadata keys written on checkout sessions and subscriptions so webhook
// events can be linked back to a user and tier.
const (
	MetadataUserID = "user_id"
	MetadataTier   = "tier"
)

// Interval is a billing cadence.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Service defines the interface for billing operations.
type Service interface {
	// CreateCheckoutSession creates a Stripe Checkout session for subscribing.
	// Returns the checkout URL to redirect the user to.
	CreateCheckoutSession(params CheckoutParams) (string, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	// Returns the portal URL to redirect the user to.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// CancelSubscription sets a subscription to cancel at period end.
	CancelSubscription(subscriptionID string) error

	// ReactivateSubscription removes the cancel_at_period_end flag.
	ReactivateSubscription(subscriptionID string) error

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// CheckoutParams describes a subscription checkout for one user.
type CheckoutParams struct {
	UserID        string
	CustomerID    string // existing Stripe customer, empty for a first checkout
	CustomerEmail string // used when CustomerID is empty
	Tier          domain.Tier
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	StarterMonthlyPriceID string
	StarterYearlyPriceID  string
	MakerMonthlyPriceID   string
	MakerYearlyPriceID    string
	ProMonthlyPriceID     string
	ProYearlyPriceID      string
}

// PriceFor returns the configured price for tier and interval.
func (p PriceConfig) PriceFor(tier domain.Tier, interval Interval) (string, bool) {
	var id string
	switch {
	case tier == domain.TierStarter && interval == IntervalMonthly:
		id = p.StarterMonthlyPriceID
	case tier == domain.TierStarter && interval == IntervalYearly:
		id = p.StarterYearlyPriceID
	case tier == domain.TierMaker && interval == IntervalMonthly:
		id = p.MakerMonthlyPriceID
	case tier == domain.TierMaker && interval == IntervalYearly:
		id = p.MakerYearlyPriceID
	case tier == domain.TierPro && interval == IntervalMonthly:
		id = p.ProMonthlyPriceID
	case tier == domain.TierPro && interval == IntervalYearly:
		id = p.ProYearlyPriceID
	}
	return id, id != ""
}

// TierPrices maps every configured price id to its tier, for the catalog.
func (p PriceConfig) TierPrices() map[string]domain.Tier {
	return map[string]domain.Tier{
		p.StarterMonthlyPriceID: domain.TierStarter,
		p.StarterYearlyPriceID:  domain.TierStarter,
		p.MakerMonthlyPriceID:   domain.TierMaker,
		p.MakerYearlyPriceID:    domain.TierMaker,
		p.ProMonthlyPriceID:     domain.TierPro,
		p.ProYearlyPriceID:      domain.TierPro,
	}
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	sc            *client.API
	webhookSecret string
	tolerance     time.Duration
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls. It is held by this
// service's own client, never by the package-level stripe.Key.
// The webhookSecret is used to verify incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string) Service {
	return newStripeService(secretKey, webhookSecret, nil)
}

// newStripeService lets tests point the client at a local server. Nil
// backends use the Stripe defaults.
func newStripeService(secretKey, webhookSecret string, backends *stripe.Backends) *stripeService {
	return &stripeService{
		sc:            client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		tolerance:     webhook.DefaultTolerance,
	}
}

func (s *stripeService) CreateCheckoutSession(p CheckoutParams) (string, error) {
	metadata := map[string]string{
		MetadataUserID: p.UserID,
		MetadataTier:   string(p.Tier),
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(p.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Metadata = metadata
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	} else if p.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(p.CustomerEmail)
	}

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := s.sc.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CancelSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	_, err := s.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return nil
}

func (s *stripeService) ReactivateSubscription(subscriptionID string) error {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	_, err := s.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return fmt.Errorf("stripe reactivate subscription: %w", err)
	}
	return nil
}

// VerifyWebhookSignature checks the Stripe-Signature header. Events built
// for a different API version are accepted; Decode validates the fields it
// needs instead.
func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, domain.InvalidSignature("billing.verify_webhook", err)
	}
	return event, nil
}
