package billing

import (
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
)

// Action is what the processor must do with a subscription row.
type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// Transition is the result of applying an event to the current subscription.
// Next is only meaningful when Action is not ActionSkip.
type Transition struct {
	Action Action
	Next   domain.Subscription
	Reason string
}

func skip(reason string) Transition {
	return Transition{Action: ActionSkip, Reason: reason}
}

// Skip reasons, also used as log values.
const (
	ReasonTerminal   = "subscription already canceled"
	ReasonStale      = "event older than stored state"
	ReasonPeriodBack = "period end earlier than stored"
	ReasonNoChange   = "no status change for invoice"
	ReasonNoRow      = "no subscription row"
)

// TransitionCheckout attaches a completed checkout to cur, or creates a new
// active row when the checkout arrives before any subscription event. A
// checkout older than the last applied event is rejected like any stale update.
func TransitionCheckout(cur *domain.Subscription, ev CheckoutCompleted) Transition {
	at := ev.Created
	if cur == nil {
		tier := ev.Tier
		if tier == "" {
			tier = domain.TierFree
		}
		return Transition{
			Action: ActionCreate,
			Next: domain.Subscription{
				UserID:               ev.UserID,
				StripeCustomerID:     ev.CustomerID,
				StripeSubscriptionID: ev.SubscriptionID,
				Tier:                 tier,
				Status:               domain.SubscriptionStatusActive,
				LastEventAt:          &at,
			},
		}
	}
	if cur.IsCanceled() {
		return skip(ReasonTerminal)
	}
	if cur.LastEventAt != nil && at.Before(*cur.LastEventAt) {
		return skip(ReasonStale)
	}

	next := *cur
	if ev.Tier != "" {
		next.Tier = ev.Tier
	}
	if next.Status == domain.SubscriptionStatusIncomplete {
		next.Status = domain.SubscriptionStatusActive
	}
	next.LastEventAt = &at
	return Transition{Action: ActionUpdate, Next: next}
}

// TransitionSubscriptionChanged overwrites the provider-owned fields of cur
// with snap. An event older than the last applied one, or one whose period
// end moves backwards, is rejected as a whole.
func TransitionSubscriptionChanged(cur *domain.Subscription, userID string, snap SubscriptionSnapshot, eventAt time.Time) Transition {
	if cur == nil {
		tier := snap.Tier
		if tier == "" {
			tier = domain.TierFree
		}
		return Transition{
			Action: ActionCreate,
			Next: domain.Subscription{
				UserID:               userID,
				StripeCustomerID:     snap.CustomerID,
				StripeSubscriptionID: snap.SubscriptionID,
				Tier:                 tier,
				Status:               snap.Status,
				CurrentPeriodStart:   snap.CurrentPeriodStart,
				CurrentPeriodEnd:     snap.CurrentPeriodEnd,
				CancelAtPeriodEnd:    snap.CancelAtPeriodEnd,
				TrialEnd:             snap.TrialEnd,
				CanceledAt:           snap.CanceledAt,
				LastEventAt:          &eventAt,
			},
		}
	}
	if cur.IsCanceled() {
		return skip(ReasonTerminal)
	}
	if cur.LastEventAt != nil && eventAt.Before(*cur.LastEventAt) {
		return skip(ReasonStale)
	}
	if cur.CurrentPeriodEnd != nil && snap.CurrentPeriodEnd != nil && snap.CurrentPeriodEnd.Before(*cur.CurrentPeriodEnd) {
		return skip(ReasonPeriodBack)
	}

	next := *cur
	if snap.Tier != "" {
		next.Tier = snap.Tier
	}
	next.Status = snap.Status
	next.CurrentPeriodStart = snap.CurrentPeriodStart
	next.CurrentPeriodEnd = snap.CurrentPeriodEnd
	next.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	next.TrialEnd = snap.TrialEnd
	next.CanceledAt = snap.CanceledAt
	if next.Status == domain.SubscriptionStatusCanceled && next.CanceledAt == nil {
		next.CanceledAt = &eventAt
	}
	next.LastEventAt = &eventAt
	return Transition{Action: ActionUpdate, Next: next}
}

// TransitionSubscriptionDeleted moves cur to canceled. Deletion is applied
// regardless of event order since canceled is terminal.
func TransitionSubscriptionDeleted(cur *domain.Subscription, snap SubscriptionSnapshot, eventAt time.Time) Transition {
	if cur == nil {
		return skip(ReasonNoRow)
	}
	if cur.IsCanceled() {
		return skip(ReasonTerminal)
	}

	next := *cur
	next.Status = domain.SubscriptionStatusCanceled
	next.CancelAtPeriodEnd = false
	next.CanceledAt = snap.CanceledAt
	if next.CanceledAt == nil {
		next.CanceledAt = &eventAt
	}
	next.LastEventAt = laterOf(cur.LastEventAt, eventAt)
	return Transition{Action: ActionUpdate, Next: next}
}

// TransitionInvoice moves cur between active and past_due on payment
// failure and recovery. Other invoice events leave the subscription alone.
func TransitionInvoice(cur *domain.Subscription, ev InvoiceEvent) Transition {
	if cur == nil {
		return skip(ReasonNoRow)
	}
	if cur.IsCanceled() {
		return skip(ReasonTerminal)
	}

	next := *cur
	switch {
	case ev.Kind == InvoicePaymentFailed && cur.Status.Entitled():
		next.Status = domain.SubscriptionStatusPastDue
	case ev.Kind.PaymentSettled() && cur.Status == domain.SubscriptionStatusPastDue:
		next.Status = domain.SubscriptionStatusActive
	default:
		return skip(ReasonNoChange)
	}
	next.LastEventAt = laterOf(cur.LastEventAt, ev.Created)
	return Transition{Action: ActionUpdate, Next: next}
}

func laterOf(stored *time.Time, at time.Time) *time.Time {
	if stored != nil && stored.After(at) {
		return stored
	}
	return &at
}
