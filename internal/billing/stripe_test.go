package billing

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/kerf/internal/domain"
)

// fakeStripe answers every API call with a minimal object and records the
// Authorization header of each request.
type fakeStripe struct {
	mu    sync.Mutex
	auths []string
	paths []string
	srv   *httptest.Server
}

func newFakeStripe(t *testing.T) *fakeStripe {
	t.Helper()
	f := &fakeStripe{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		f.mu.Lock()
		f.auths = append(f.auths, auth)
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"obj_1","url":"https://stripe.test/%s"}`, strings.TrimPrefix(auth, "Bearer "))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStripe) backends() *stripe.Backends {
	b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(f.srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &stripe.Backends{API: b, Connect: b, Uploads: b}
}

func TestStripeService_KeyIsPerInstance(t *testing.T) {
	fake := newFakeStripe(t)
	globalBefore := stripe.Key

	a := newStripeService("sk_test_account_a", testWebhookSecret, fake.backends())
	b := newStripeService("sk_test_account_b", testWebhookSecret, fake.backends())

	assert.Equal(t, globalBefore, stripe.Key, "constructing a service must not touch the package key")

	url, err := a.CreateCheckoutSession(CheckoutParams{
		UserID:     "user_1",
		Tier:       domain.TierPro,
		PriceID:    "price_pro_monthly",
		SuccessURL: "https://kerf.test/ok",
		CancelURL:  "https://kerf.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://stripe.test/sk_test_account_a", url)

	require.NoError(t, b.CancelSubscription("sub_1"))

	url, err = b.CreatePortalSession("cus_1", "https://kerf.test/billing")
	require.NoError(t, err)
	assert.Equal(t, "https://stripe.test/sk_test_account_b", url)

	assert.Equal(t, []string{
		"Bearer sk_test_account_a",
		"Bearer sk_test_account_b",
		"Bearer sk_test_account_b",
	}, fake.auths)
	assert.Equal(t, []string{
		"/v1/checkout/sessions",
		"/v1/subscriptions/sub_1",
		"/v1/billing_portal/sessions",
	}, fake.paths)
}

func TestNewStripeService_LeavesGlobalKeyUnset(t *testing.T) {
	globalBefore := stripe.Key
	NewStripeService("sk_test_unused", testWebhookSecret)
	assert.Equal(t, globalBefore, stripe.Key)
}
