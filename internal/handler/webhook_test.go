package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/kerf/internal/billing"
	"github.com/DukeRupert/kerf/internal/domain"
)

func serveWebhook(p *mockProcessor, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewWebhookHandler(p, discardLogger()).RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHandler_Outcomes(t *testing.T) {
	for _, outcome := range []billing.Outcome{billing.OutcomeApplied, billing.OutcomeDuplicate, billing.OutcomeIgnored} {
		t.Run(string(outcome), func(t *testing.T) {
			var gotPayload, gotSig string
			p := &mockProcessor{
				HandleWebhookFunc: func(ctx context.Context, payload []byte, signature string) (*billing.Result, error) {
					gotPayload, gotSig = string(payload), signature
					return &billing.Result{EventID: "evt_1", EventType: "invoice.paid", Outcome: outcome}, nil
				},
			}

			rec := serveWebhook(p, `{"id":"evt_1"}`)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if gotPayload != `{"id":"evt_1"}` || gotSig != "t=1,v1=abc" {
				t.Errorf("processor got payload %q sig %q", gotPayload, gotSig)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["outcome"] != string(outcome) || body["id"] != "evt_1" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestWebhookHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"bad signature", domain.InvalidSignature("billing.verify", errors.New("no valid signature")), http.StatusBadRequest},
		{"undecodable", domain.Invalid("billing.decode", "Event payload could not be decoded"), http.StatusBadRequest},
		{"store down", domain.StorageUnavailable(errors.New("dial tcp"), "billing.apply", "Subscription store unavailable"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProcessor{
				HandleWebhookFunc: func(ctx context.Context, payload []byte, signature string) (*billing.Result, error) {
					return nil, tt.err
				},
			}
			rec := serveWebhook(p, `{}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	called := false
	p := &mockProcessor{
		HandleWebhookFunc: func(ctx context.Context, payload []byte, signature string) (*billing.Result, error) {
			called = true
			return &billing.Result{}, nil
		},
	}

	rec := serveWebhook(p, strings.Repeat("x", maxWebhookBytes+1))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if called {
		t.Error("processor should not see an oversized body")
	}
}
