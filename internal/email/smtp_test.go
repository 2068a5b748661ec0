package email

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *SMTPEmailService {
	t.Helper()
	s, err := NewSMTPEmailService(SMTPConfig{Host: "127.0.0.1", Port: 1}, "https://kerf.test/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestNewSMTPEmailService_Defaults(t *testing.T) {
	s := newTestService(t)
	assert.Equal(t, DefaultFromEmail, s.config.From)
	assert.Equal(t, DefaultFromName, s.config.FromName)
	assert.Equal(t, "https://kerf.test/settings/billing", s.billingURL())
}

func TestRenderTemplates(t *testing.T) {
	s := newTestService(t)
	trialEnd := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		data map[string]interface{}
		want []string
	}{
		{
			name: "payment_failed.html",
			data: map[string]interface{}{"Name": "Ann", "PlanName": "Maker", "Amount": "$19.00", "PayURL": "https://pay.test/in_1"},
			want: []string{"Ann", "Maker", "$19.00", "https://pay.test/in_1"},
		},
		{
			name: "trial_ending.html",
			data: map[string]interface{}{"Name": "Ann", "PlanName": "Pro", "TrialEnd": formatDate(&trialEnd), "BillingURL": s.billingURL()},
			want: []string{"May 3, 2026", "Pro", "/settings/billing"},
		},
		{
			name: "subscription_canceled.html",
			data: s.templateData(Notice{Name: "<b>Ann</b>", PlanName: "Starter"}),
			want: []string{"&lt;b&gt;Ann&lt;/b&gt;", "Starter"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.renderTemplate(tt.name, tt.data)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestFormatAmount(t *testing.T) {
	s := newTestService(t)

	assert.Contains(t, s.formatAmount(1900, "usd"), "19.00")

	// JPY has no minor unit.
	jpy := s.formatAmount(1500, "jpy")
	assert.Regexp(t, `1,?500`, jpy)
	assert.NotContains(t, jpy, "15.00")

	assert.Equal(t, "19.00 XXQ", s.formatAmount(1900, "xxq"))
}

func TestBuildMessage(t *testing.T) {
	s := newTestService(t)
	msg := string(s.buildMessage(Email{To: "ann@example.com", Subject: "Hello", TextBody: "plain", HTMLBody: "<p>html</p>"}))

	assert.True(t, strings.HasPrefix(msg, "From: Kerf <billing@kerf.dev>\r\n"))
	assert.Contains(t, msg, "To: ann@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hello\r\n")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "plain")
	assert.Contains(t, msg, "<p>html</p>")
}

func TestSend_CanceledContext(t *testing.T) {
	s := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendSubscriptionCanceledEmail(ctx, "ann@example.com", Notice{Name: "Ann", PlanName: "Maker"})
	assert.ErrorIs(t, err, context.Canceled)
}
