package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/kerf/internal/catalog"
	"github.com/DukeRupert/kerf/internal/domain"
)

func serveSubscriptions(t *testing.T, subs *mockSubscriptionService, path string) *httptest.ResponseRecorder {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	mux := http.NewServeMux()
	NewSubscriptionHandler(subs, cat, discardLogger()).
		RegisterRoutes(mux, func(next http.Handler) http.Handler { return next })
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestSubscriptionHandler_GetSubscription(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		sub           *domain.Subscription
		err           error
		wantStatus    int
		wantTier      string
		wantCommerce  bool
		wantSubscribe bool
	}{
		{
			name: "active pro",
			sub: &domain.Subscription{
				ID: uuid.New(), UserID: "u1", StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
				Tier: domain.TierPro, Status: domain.SubscriptionStatusActive, CurrentPeriodEnd: &periodEnd,
			},
			wantStatus:    http.StatusOK,
			wantTier:      "pro",
			wantCommerce:  true,
			wantSubscribe: true,
		},
		{
			name: "past due falls back to free",
			sub: &domain.Subscription{
				ID: uuid.New(), UserID: "u1", StripeCustomerID: "cus_1",
				Tier: domain.TierPro, Status: domain.SubscriptionStatusPastDue,
			},
			wantStatus:    http.StatusOK,
			wantTier:      "free",
			wantSubscribe: true,
		},
		{
			name:       "never subscribed",
			err:        domain.NotFound("subscription.get", "subscription for user", "u1"),
			wantStatus: http.StatusOK,
			wantTier:   "free",
		},
		{
			name:       "store down",
			err:        domain.StorageUnavailable(errors.New("dial"), "subscription.get", "Subscription could not be loaded"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs := &mockSubscriptionService{
				GetSubscriptionFunc: func(ctx context.Context, userID string) (*domain.Subscription, error) {
					return tt.sub, tt.err
				},
			}

			rec := serveSubscriptions(t, subs, "/api/v1/subscriptions/u1")

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp SubscriptionResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.EffectiveTier != tt.wantTier {
				t.Errorf("effective tier = %q, want %q", resp.EffectiveTier, tt.wantTier)
			}
			if resp.Entitlements["commercial_license"] != tt.wantCommerce {
				t.Errorf("commercial_license = %v, want %v", resp.Entitlements["commercial_license"], tt.wantCommerce)
			}
			if (resp.Subscription != nil) != tt.wantSubscribe {
				t.Errorf("subscription present = %v, want %v", resp.Subscription != nil, tt.wantSubscribe)
			}
		})
	}
}

func TestSubscriptionHandler_ListInvoices(t *testing.T) {
	t.Run("passes limit", func(t *testing.T) {
		var gotLimit int
		subs := &mockSubscriptionService{
			ListInvoicesFunc: func(ctx context.Context, userID string, limit int) ([]domain.Invoice, error) {
				gotLimit = limit
				return []domain.Invoice{
					{StripeInvoiceID: "in_2", AmountDue: 1500, AmountPaid: 1500, Currency: "usd", Status: domain.InvoiceStatusPaid},
					{StripeInvoiceID: "in_1", AmountDue: 1500, Currency: "usd", Status: domain.InvoiceStatusFailed},
				}, nil
			},
		}

		rec := serveSubscriptions(t, subs, "/api/v1/subscriptions/u1/invoices?limit=5")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if gotLimit != 5 {
			t.Errorf("limit = %d, want 5", gotLimit)
		}
		var resp struct {
			Invoices []InvoiceJSON `json:"invoices"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Invoices) != 2 || resp.Invoices[0].Status != "paid" {
			t.Errorf("invoices = %+v", resp.Invoices)
		}
	})

	t.Run("empty list is an array", func(t *testing.T) {
		rec := serveSubscriptions(t, &mockSubscriptionService{}, "/api/v1/subscriptions/u1/invoices")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if got := rec.Body.String(); got != "{\"invoices\":[]}\n" {
			t.Errorf("body = %q", got)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		rec := serveSubscriptions(t, &mockSubscriptionService{}, "/api/v1/subscriptions/u1/invoices?limit=zero")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
