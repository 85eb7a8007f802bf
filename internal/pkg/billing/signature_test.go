package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_dGVzdC1zaWduaW5nLXNlY3JldA=="

func signTestPayload(t *testing.T, id string, ts time.Time, payload []byte) map[string]string {
	t.Helper()

	key, err := base64.StdEncoding.DecodeString("dGVzdC1zaWduaW5nLXNlY3JldA==")
	if err != nil {
		t.Fatalf("failed to decode test secret: %v", err)
	}

	tsRaw := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + tsRaw + "."))
	mac.Write(payload)

	return map[string]string{
		HeaderWebhookID:        id,
		HeaderWebhookTimestamp: tsRaw,
		HeaderWebhookSignature: "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}
}

func TestVerifyWebhook_Valid(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"type":"subscription.active","data":{"id":"sub_1","customer_id":"cus_1","product_id":"prod_pro","cancel_at_period_end":false}}`)
	headers := signTestPayload(t, "evt_1", now, payload)

	ev, err := verifyWebhookAt(payload, headers, testSecret, now, DefaultTolerance)
	if err != nil {
		t.Fatalf("unexpected verification error: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventSubscriptionActive {
		t.Fatalf("unexpected event identity: id=%q type=%q", ev.ID, ev.Type)
	}
	if ev.CustomerID != "cus_1" || ev.SubscriptionID != "sub_1" || ev.PlanID != "prod_pro" {
		t.Fatalf("unexpected event fields: %+v", ev)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Fatalf("expected occurredAt %v, got %v", now, ev.OccurredAt)
	}
}

func TestVerifyWebhook_OccurrenceFromPayload(t *testing.T) {
	now := time.Unix(1700000000, 0)
	occurred := now.Add(-30 * time.Minute).UTC()
	payload := []byte(`{"type":"subscription.canceled","data":{"id":"sub_1","customer_id":"cus_1","modified_at":"` + occurred.Format(time.RFC3339) + `"}}`)
	headers := signTestPayload(t, "evt_retry", now, payload)

	ev, err := verifyWebhookAt(payload, headers, testSecret, now, DefaultTolerance)
	if err != nil {
		t.Fatalf("unexpected verification error: %v", err)
	}
	// The signing timestamp bounds replay tolerance only; occurrence comes
	// from the payload even when the delivery attempt was signed much later.
	if !ev.OccurredAt.Equal(occurred) {
		t.Fatalf("expected occurredAt %v from payload, got %v", occurred, ev.OccurredAt)
	}
}

func TestVerifyWebhook_TamperedBody(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"type":"order.paid","data":{"customer_id":"cus_1"}}`)
	headers := signTestPayload(t, "evt_2", now, payload)

	tampered := []byte(`{"type":"order.paid","data":{"customer_id":"cus_other"}}`)
	if _, err := verifyWebhookAt(tampered, headers, testSecret, now, DefaultTolerance); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyWebhook_Expired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"type":"order.paid","data":{"customer_id":"cus_1"}}`)

	for _, skew := range []time.Duration{-6 * time.Minute, 6 * time.Minute} {
		headers := signTestPayload(t, "evt_3", now.Add(skew), payload)
		if _, err := verifyWebhookAt(payload, headers, testSecret, now, DefaultTolerance); !errors.Is(err, ErrExpired) {
			t.Fatalf("skew %v: expected ErrExpired, got %v", skew, err)
		}
	}
}

func TestVerifyWebhook_Malformed(t *testing.T) {
	now := time.Unix(1700000000, 0)

	payload := []byte(`{not json`)
	headers := signTestPayload(t, "evt_4", now, payload)
	if _, err := verifyWebhookAt(payload, headers, testSecret, now, DefaultTolerance); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for broken JSON, got %v", err)
	}

	payload = []byte(`{"data":{"customer_id":"cus_1"}}`)
	headers = signTestPayload(t, "evt_5", now, payload)
	if _, err := verifyWebhookAt(payload, headers, testSecret, now, DefaultTolerance); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for missing type, got %v", err)
	}
}

func TestVerifyWebhook_MissingHeaders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	payload := []byte(`{"type":"order.paid","data":{"customer_id":"cus_1"}}`)

	if _, err := verifyWebhookAt(payload, map[string]string{}, testSecret, now, DefaultTolerance); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature without headers, got %v", err)
	}
}

func TestIsVerificationError(t *testing.T) {
	for _, err := range []error{ErrMalformed, ErrBadSignature, ErrExpired} {
		if !IsVerificationError(err) {
			t.Fatalf("expected %v to be a verification error", err)
		}
	}
	if IsVerificationError(errors.New("boom")) {
		t.Fatalf("expected generic error to not be a verification error")
	}
}
