package constants

// Static route constants
const (
	APIRoute     = "/api"
	WebhookRoute = "/webhooks/billing"
	MetricsRoute = "/metrics"
)
