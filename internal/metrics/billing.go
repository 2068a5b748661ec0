package metrics

import "time"

// QuotaDecision records the result of a quota check or consume.
func QuotaDecision(feature, result string) {
	QuotaDecisionsTotal.WithLabelValues(feature, result).Inc()
}

// UsageRecorded records one counted use of feature.
func UsageRecorded(feature string) {
	UsageIncrementsTotal.WithLabelValues(feature).Inc()
}

// WebhookHandled records a webhook delivery and how long it took.
func WebhookHandled(eventType, outcome string, duration time.Duration) {
	if eventType == "" {
		eventType = "unknown"
	}
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	WebhookProcessingDuration.Observe(duration.Seconds())
}

// BillingEmail records a billing notification send attempt.
func BillingEmail(kind, status string) {
	BillingEmailsTotal.WithLabelValues(kind, status).Inc()
}
