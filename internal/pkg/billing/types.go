package billing

import (
	"errors"
	"time"
)

// Provider lifecycle event types consumed by the reconciler. The provider
// emits more types than these; everything else is acknowledged and ignored.
const (
	EventOrderPaid            = "order.paid"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionRevoked  = "subscription.revoked"
	EventCustomerCreated      = "customer.created"
	EventCustomerUpdated      = "customer.updated"
)

// Verification failures are provider/client faults and map to a 4xx at the
// boundary so the provider does not retry a permanently invalid payload.
var (
	ErrMalformed    = errors.New("billing: malformed webhook payload")
	ErrBadSignature = errors.New("billing: webhook signature mismatch")
	ErrExpired      = errors.New("billing: webhook timestamp outside tolerance")
)

// IsVerificationError reports whether err is a signature/structure/timestamp
// failure as opposed to an internal one.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, ErrBadSignature) || errors.Is(err, ErrExpired)
}

// VerifiedEvent is a provider webhook event that passed signature and
// timestamp verification. It is ephemeral; only its effect on the
// entitlement record and its identity (for deduplication) are persisted.
type VerifiedEvent struct {
	ID                string
	Type              string
	CustomerID        string
	ExternalUserID    string
	CustomerEmail     string
	SubscriptionID    string
	PlanID            string
	CancelAtPeriodEnd bool
	OccurredAt        time.Time
	Raw               []byte
}
