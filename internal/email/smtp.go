package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html
var templateFS embed.FS

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Postmark SMTP (production): Uses username/password authentication
// - Any standard SMTP server
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	printer   *message.Printer
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service. baseURL is the
// public address of the app, used for the billing settings link.
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: templates,
		printer:   message.NewPrinter(language.English),
		logger:    logger,
	}, nil
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendPaymentFailedEmail tells a customer their renewal payment failed.
func (s *SMTPEmailService) SendPaymentFailedEmail(ctx context.Context, to string, n Notice) error {
	amount := s.formatAmount(n.AmountDue, n.Currency)
	payURL := n.InvoiceURL
	if payURL == "" {
		payURL = s.billingURL()
	}

	data := s.templateData(n)
	data["Amount"] = amount
	data["PayURL"] = payURL

	htmlBody, err := s.renderTemplate("payment_failed.html", data)
	if err != nil {
		return fmt.Errorf("failed to render payment failed email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

We couldn't collect %s for your %s plan. Paid features are paused until the payment goes through.

Update your payment method or pay the invoice here:

%s

Thanks,
The Kerf Team
`, n.Name, amount, n.PlanName, payURL)

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Your Kerf payment failed",
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// SendTrialEndingEmail warns a customer that their trial converts soon.
func (s *SMTPEmailService) SendTrialEndingEmail(ctx context.Context, to string, n Notice) error {
	ends := formatDate(n.TrialEnd)

	data := s.templateData(n)
	data["TrialEnd"] = ends

	htmlBody, err := s.renderTemplate("trial_ending.html", data)
	if err != nil {
		return fmt.Errorf("failed to render trial ending email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your %s trial ends on %s. After that your card on file will be charged and your plan continues without interruption.

Manage your plan here:

%s

Thanks,
The Kerf Team
`, n.Name, n.PlanName, ends, s.billingURL())

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Your Kerf trial is ending soon",
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// SendSubscriptionCanceledEmail confirms a subscription has ended.
func (s *SMTPEmailService) SendSubscriptionCanceledEmail(ctx context.Context, to string, n Notice) error {
	htmlBody, err := s.renderTemplate("subscription_canceled.html", s.templateData(n))
	if err != nil {
		return fmt.Errorf("failed to render cancellation email template: %w", err)
	}

	textBody := fmt.Sprintf(`Hi %s,

Your %s subscription has been canceled and your account is back on the Free plan. Your designs and templates are still there.

You can pick a plan again any time:

%s

Thanks,
The Kerf Team
`, n.Name, n.PlanName, s.billingURL())

	return s.send(ctx, Email{
		To:       to,
		Subject:  "Your Kerf subscription was canceled",
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
}

// =============================================================================
// Internal Methods
// =============================================================================

func (s *SMTPEmailService) templateData(n Notice) map[string]interface{} {
	return map[string]interface{}{
		"Name":       n.Name,
		"PlanName":   n.PlanName,
		"BillingURL": s.billingURL(),
	}
}

func (s *SMTPEmailService) billingURL() string {
	return s.baseURL + "/settings/billing"
}

// formatAmount renders minor units as a localized currency string. Unknown
// currency codes fall back to the bare number with the code appended.
func (s *SMTPEmailService) formatAmount(minor int64, code string) string {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return fmt.Sprintf("%.2f %s", float64(minor)/100, strings.ToUpper(code))
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(minor)
	for i := 0; i < scale; i++ {
		major /= 10
	}
	return s.printer.Sprint(currency.Symbol(unit.Amount(major)))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "soon"
	}
	return t.Format("January 2, 2006")
}

// send sends an email via SMTP. net/smtp has no context support, so the
// context is only checked before dialing.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============KERF_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// renderTemplate renders an email template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// Template Functions
// =============================================================================

func emailTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"currentYear": func() int {
			return time.Now().Year()
		},
	}
}

var _ EmailService = (*SMTPEmailService)(nil)
