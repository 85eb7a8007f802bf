package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/billing"
	"github.com/querystudio/querystudio/internal/pkg/cache"
	"github.com/querystudio/querystudio/internal/pkg/database"
	"github.com/querystudio/querystudio/internal/pkg/env"
	"github.com/querystudio/querystudio/internal/pkg/realtime"
)

const webhookTimeout = 15 * time.Second

// HandleBillingWebhook is the provider event ingress. Admission control runs
// before this handler; here the order is verify, then reconcile. Any non-2xx
// response makes the provider redeliver, so only verification failures and
// real persistence failures are non-2xx.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := map[string]string{
		billing.HeaderWebhookID:        c.Get(billing.HeaderWebhookID),
		billing.HeaderWebhookTimestamp: c.Get(billing.HeaderWebhookTimestamp),
		billing.HeaderWebhookSignature: c.Get(billing.HeaderWebhookSignature),
	}
	secret := env.GetEnv("POLAR_WEBHOOK_SECRET", "")

	ev, err := billing.VerifyWebhook(rawBody, headers, secret)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": verificationErrorCode(err)})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	reconciler := billing.NewReconcilerFromDB(database.GetDB(), realtime.NewNotifier(cache.GetClient()))
	result, err := reconciler.Apply(ctx, ev)
	if err != nil {
		// Unacknowledged on purpose: the provider's retry redelivers the event.
		log.Errorf("billing webhook %s (%s) failed: %v", ev.ID, ev.Type, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconcile_failed"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "outcome": string(result.Outcome)})
}

func verificationErrorCode(err error) string {
	switch {
	case errors.Is(err, billing.ErrExpired):
		return "expired_timestamp"
	case errors.Is(err, billing.ErrMalformed):
		return "invalid_payload"
	default:
		return "invalid_signature"
	}
}
