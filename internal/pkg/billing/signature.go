package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the accepted clock skew between the provider's signing
// timestamp and our clock. Deliveries outside it are treated as replays.
const DefaultTolerance = 5 * time.Minute

// Webhook transport headers (standard-webhooks envelope used by the provider).
const (
	HeaderWebhookID        = "webhook-id"
	HeaderWebhookTimestamp = "webhook-timestamp"
	HeaderWebhookSignature = "webhook-signature"
)

const secretPrefix = "whsec_"

// VerifyWebhook checks the provider signature over the raw payload and, on
// success, decodes the payload into a VerifiedEvent. Verification is pure:
// no state is touched and neither the secret nor the signature is logged.
//
// The signed content is "{id}.{timestamp}.{payload}" and the signature header
// carries one or more space-separated "v1,<base64>" candidates.
func VerifyWebhook(payload []byte, headers map[string]string, secret string) (*VerifiedEvent, error) {
	return verifyWebhookAt(payload, headers, secret, time.Now(), DefaultTolerance)
}

func verifyWebhookAt(payload []byte, headers map[string]string, secret string, now time.Time, tolerance time.Duration) (*VerifiedEvent, error) {
	id := strings.TrimSpace(headerValue(headers, HeaderWebhookID))
	tsRaw := strings.TrimSpace(headerValue(headers, HeaderWebhookTimestamp))
	sigHeader := strings.TrimSpace(headerValue(headers, HeaderWebhookSignature))
	if id == "" || tsRaw == "" || sigHeader == "" {
		return nil, ErrBadSignature
	}

	tsUnix, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	ts := time.Unix(tsUnix, 0)
	if diff := now.Sub(ts); diff > tolerance || diff < -tolerance {
		return nil, ErrExpired
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return nil, ErrBadSignature
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(tsRaw))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !signatureMatches(sigHeader, expected) {
		return nil, ErrBadSignature
	}

	ev, err := parseWebhookEvent(payload)
	if err != nil {
		return nil, err
	}
	ev.ID = id
	if ev.OccurredAt.IsZero() {
		// Payloads without an occurrence time fall back to the signing
		// timestamp. That one is per delivery attempt, so it only serves
		// events the provider never retries out of order.
		ev.OccurredAt = ts
	}
	return ev, nil
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// Header maps from some transports carry canonical casing.
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	if s == "" {
		return nil, ErrBadSignature
	}
	trimmed := strings.TrimPrefix(s, secretPrefix)
	if decoded, err := base64.StdEncoding.DecodeString(trimmed); err == nil {
		return decoded, nil
	}
	// Secrets configured as raw strings are used as-is.
	return []byte(trimmed), nil
}

func signatureMatches(sigHeader string, expected []byte) bool {
	for _, candidate := range strings.Fields(sigHeader) {
		parts := strings.SplitN(candidate, ",", 2)
		if len(parts) != 2 || parts[0] != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

type webhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ID         string `json:"id"`
		CustomerID string `json:"customer_id"`
		Customer   struct {
			ID         string `json:"id"`
			Email      string `json:"email"`
			ExternalID string `json:"external_id"`
		} `json:"customer"`
		ProductID         string `json:"product_id"`
		SubscriptionID    string `json:"subscription_id"`
		ExternalID        string `json:"external_id"`
		Email             string `json:"email"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		CreatedAt         string `json:"created_at"`
		ModifiedAt        string `json:"modified_at"`
	} `json:"data"`
}

func parseWebhookEvent(payload []byte) (*VerifiedEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrMalformed
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, ErrMalformed
	}

	ev := &VerifiedEvent{
		Type:              strings.TrimSpace(env.Type),
		CustomerID:        firstNonEmpty(env.Data.CustomerID, env.Data.Customer.ID),
		ExternalUserID:    firstNonEmpty(env.Data.Customer.ExternalID, env.Data.ExternalID),
		CustomerEmail:     firstNonEmpty(env.Data.Customer.Email, env.Data.Email),
		PlanID:            env.Data.ProductID,
		CancelAtPeriodEnd: env.Data.CancelAtPeriodEnd,
		Raw:               append([]byte(nil), payload...),
	}

	// The recency tie-break needs the time the event occurred, not the time
	// this delivery attempt was signed. A retried delivery re-signs with a
	// fresh header timestamp, but modified_at/created_at travel with the
	// event body.
	ev.OccurredAt = parseOccurrence(env.Data.ModifiedAt, env.Data.CreatedAt)

	switch ev.Type {
	case EventSubscriptionActive, EventSubscriptionCanceled, EventSubscriptionRevoked:
		ev.SubscriptionID = env.Data.ID
	case EventCustomerCreated, EventCustomerUpdated:
		if ev.CustomerID == "" {
			ev.CustomerID = env.Data.ID
		}
	default:
		ev.SubscriptionID = env.Data.SubscriptionID
	}
	return ev, nil
}

func parseOccurrence(candidates ...string) time.Time {
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
