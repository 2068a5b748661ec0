package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
)

// Event is a decoded webhook event. The set of implementations is closed:
// CheckoutCompleted, SubscriptionChanged, SubscriptionDeleted,
// SubscriptionTrialWillEnd, InvoiceEvent, CustomerUpdated and UnknownEvent.
type Event interface {
	Meta() Envelope
	sealed()
}

// Envelope carries the fields every provider event has.
type Envelope struct {
	ID      string
	Type    string
	Created time.Time
}

func (e Envelope) Meta() Envelope { return e }
func (Envelope) sealed()          {}

// CheckoutCompleted is a finished subscription checkout.
type CheckoutCompleted struct {
	Envelope
	SessionID      string
	UserID         string
	CustomerID     string
	SubscriptionID string
	Tier           domain.Tier // empty when the session carried no tier
	Email          string
	Name           string
}

// SubscriptionSnapshot is the provider's view of a subscription at the time
// of an event.
type SubscriptionSnapshot struct {
	SubscriptionID     string
	CustomerID         string
	UserID             string      // from metadata, may be empty
	Tier               domain.Tier // from the price or metadata, may be empty
	Status             domain.SubscriptionStatus
	ProviderStatus     string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	CanceledAt         *time.Time
}

// SubscriptionChanged is customer.subscription.created or .updated.
type SubscriptionChanged struct {
	Envelope
	IsCreate     bool
	Subscription SubscriptionSnapshot
}

// SubscriptionDeleted is customer.subscription.deleted.
type SubscriptionDeleted struct {
	Envelope
	Subscription SubscriptionSnapshot
}

// SubscriptionTrialWillEnd is sent a few days before a trial converts.
type SubscriptionTrialWillEnd struct {
	Envelope
	Subscription SubscriptionSnapshot
}

// InvoiceKind distinguishes the invoice events that share one handler.
type InvoiceKind string

const (
	InvoiceCreated          InvoiceKind = "created"
	InvoiceFinalized        InvoiceKind = "finalized"
	InvoicePaid             InvoiceKind = "paid"
	InvoicePaymentSucceeded InvoiceKind = "payment_succeeded"
	InvoicePaymentFailed    InvoiceKind = "payment_failed"
)

// PaymentSettled reports whether the event confirms a successful payment.
func (k InvoiceKind) PaymentSettled() bool {
	return k == InvoicePaid || k == InvoicePaymentSucceeded
}

// InvoiceEvent is any of the invoice.* events listed in InvoiceKind.
type InvoiceEvent struct {
	Envelope
	Kind             InvoiceKind
	InvoiceID        string
	CustomerID       string
	SubscriptionID   string
	AmountDue        int64
	AmountPaid       int64
	Currency         string
	Status           domain.InvoiceStatus
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	HostedInvoiceURL string
}

// CustomerUpdated carries the provider's latest customer details.
type CustomerUpdated struct {
	Envelope
	CustomerID string
	UserID     string // from metadata, may be empty
	Email      string
	Name       string
}

// UnknownEvent is any event type this service does not handle.
type UnknownEvent struct {
	Envelope
}

// Decoder turns verified provider events into Events.
type Decoder struct {
	catalog *catalog.Catalog
}

// NewDecoder creates a decoder that resolves price ids through c.
func NewDecoder(c *catalog.Catalog) *Decoder {
	return &Decoder{catalog: c}
}

// Decode validates the fields each known event type needs. Unknown types
// decode to UnknownEvent without error. A known type with a malformed or
// incomplete object returns an EINVALID error.
func (d *Decoder) Decode(ev stripe.Event) (Event, error) {
	const op = "billing.decode"

	if ev.ID == "" {
		return nil, domain.Invalid(op, "event has no id")
	}
	env := Envelope{ID: ev.ID, Type: string(ev.Type), Created: time.Unix(ev.Created, 0).UTC()}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		if isKnownType(env.Type) {
			return nil, domain.Invalid(op, fmt.Sprintf("event %s has no data object", ev.ID))
		}
		return UnknownEvent{Envelope: env}, nil
	}
	raw := ev.Data.Raw

	switch env.Type {
	case "checkout.session.completed":
		return d.decodeCheckout(op, env, raw)

	case "customer.subscription.created", "customer.subscription.updated":
		snap, err := d.decodeSubscription(op, env, raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionChanged{Envelope: env, IsCreate: env.Type == "customer.subscription.created", Subscription: snap}, nil

	case "customer.subscription.deleted":
		snap, err := d.decodeSubscription(op, env, raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionDeleted{Envelope: env, Subscription: snap}, nil

	case "customer.subscription.trial_will_end":
		snap, err := d.decodeSubscription(op, env, raw)
		if err != nil {
			return nil, err
		}
		return SubscriptionTrialWillEnd{Envelope: env, Subscription: snap}, nil

	case "invoice.created", "invoice.finalized", "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		return decodeInvoice(op, env, raw)

	case "customer.updated":
		var c stripe.Customer
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, domain.Wrap(err, domain.EINVALID, op, "malformed customer object")
		}
		if c.ID == "" {
			return nil, domain.Invalid(op, "customer object has no id")
		}
		return CustomerUpdated{
			Envelope:   env,
			CustomerID: c.ID,
			UserID:     c.Metadata[MetadataUserID],
			Email:      c.Email,
			Name:       c.Name,
		}, nil

	default:
		return UnknownEvent{Envelope: env}, nil
	}
}

func isKnownType(t string) bool {
	switch t {
	case "checkout.session.completed",
		"customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.deleted", "customer.subscription.trial_will_end",
		"invoice.created", "invoice.finalized", "invoice.paid",
		"invoice.payment_succeeded", "invoice.payment_failed",
		"customer.updated":
		return true
	}
	return false
}

func (d *Decoder) decodeCheckout(op string, env Envelope, raw json.RawMessage) (Event, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "malformed checkout session")
	}
	if s.Mode != stripe.CheckoutSessionModeSubscription {
		// One-off payments do not touch subscription state.
		return UnknownEvent{Envelope: env}, nil
	}
	if s.Customer == nil || s.Customer.ID == "" || s.Subscription == nil || s.Subscription.ID == "" {
		return nil, domain.Invalid(op, fmt.Sprintf("checkout session %s missing customer or subscription", s.ID))
	}

	userID := s.ClientReferenceID
	if userID == "" {
		userID = s.Metadata[MetadataUserID]
	}

	tier := domain.Tier(s.Metadata[MetadataTier])
	if !tier.Valid() {
		tier = ""
	}

	out := CheckoutCompleted{
		Envelope:       env,
		SessionID:      s.ID,
		UserID:         userID,
		CustomerID:     s.Customer.ID,
		SubscriptionID: s.Subscription.ID,
		Tier:           tier,
	}
	if s.CustomerDetails != nil {
		out.Email = s.CustomerDetails.Email
		out.Name = s.CustomerDetails.Name
	}
	return out, nil
}

func (d *Decoder) decodeSubscription(op string, env Envelope, raw json.RawMessage) (SubscriptionSnapshot, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return SubscriptionSnapshot{}, domain.Wrap(err, domain.EINVALID, op, "malformed subscription object")
	}
	if s.ID == "" || s.Customer == nil || s.Customer.ID == "" {
		return SubscriptionSnapshot{}, domain.Invalid(op, "subscription object missing id or customer")
	}

	snap := SubscriptionSnapshot{
		SubscriptionID:     s.ID,
		CustomerID:         s.Customer.ID,
		UserID:             s.Metadata[MetadataUserID],
		Status:             MapStatus(s.Status),
		ProviderStatus:     string(s.Status),
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		TrialEnd:           unixTime(s.TrialEnd),
		CanceledAt:         unixTime(s.CanceledAt),
	}
	snap.Tier = d.tierFor(&s)
	return snap, nil
}

// tierFor prefers the price on the first subscription item, then metadata.
func (d *Decoder) tierFor(s *stripe.Subscription) domain.Tier {
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if t, ok := d.catalog.TierForPrice(item.Price.ID); ok {
				return t
			}
		}
	}
	if t := domain.Tier(s.Metadata[MetadataTier]); t.Valid() {
		return t
	}
	return ""
}

func decodeInvoice(op string, env Envelope, raw json.RawMessage) (Event, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, "malformed invoice object")
	}
	if inv.ID == "" || inv.Customer == nil || inv.Customer.ID == "" {
		return nil, domain.Invalid(op, "invoice object missing id or customer")
	}

	kind := InvoiceKind(env.Type[len("invoice."):])
	out := InvoiceEvent{
		Envelope:         env,
		Kind:             kind,
		InvoiceID:        inv.ID,
		CustomerID:       inv.Customer.ID,
		AmountDue:        inv.AmountDue,
		AmountPaid:       inv.AmountPaid,
		Currency:         string(inv.Currency),
		Status:           mapInvoiceStatus(kind, inv.Status),
		PeriodStart:      unixTime(inv.PeriodStart),
		PeriodEnd:        unixTime(inv.PeriodEnd),
		HostedInvoiceURL: inv.HostedInvoiceURL,
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if out.Currency == "" {
		out.Currency = "usd"
	}
	return out, nil
}

// MapStatus folds Stripe's subscription statuses into the five stored ones.
func MapStatus(s stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusPaused:
		return domain.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionStatusCanceled
	default:
		return domain.SubscriptionStatusIncomplete
	}
}

func mapInvoiceStatus(kind InvoiceKind, s stripe.InvoiceStatus) domain.InvoiceStatus {
	switch {
	case kind == InvoicePaymentFailed:
		return domain.InvoiceStatusFailed
	case kind.PaymentSettled(), s == stripe.InvoiceStatusPaid:
		return domain.InvoiceStatusPaid
	case s == stripe.InvoiceStatusUncollectible, s == stripe.InvoiceStatusVoid:
		return domain.InvoiceStatusFailed
	default:
		return domain.InvoiceStatusOpen
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
