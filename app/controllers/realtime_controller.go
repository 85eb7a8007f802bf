package controllers

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/database"
	"github.com/querystudio/querystudio/internal/pkg/entitlements"
	"github.com/querystudio/querystudio/internal/pkg/env"
	"github.com/querystudio/querystudio/internal/pkg/realtime"
	"github.com/querystudio/querystudio/internal/pkg/security"
	"github.com/querystudio/querystudio/internal/pkg/usercontext"
)

// channelTokenTTL bounds how long a grant can be replayed against the
// realtime gateway before the client has to re-authorize.
const channelTokenTTL = 5 * time.Minute

type realtimeAuthRequest struct {
	Channels []string `json:"channels" validate:"required,min=1,max=20,dive,min=1,max=128"`
}

// HandleRealtimeAuth answers channel subscription requests from the realtime
// fan-out collaborator. The grant is computed fresh per request; nothing is
// cached because entitlement can change between attempts.
func HandleRealtimeAuth(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req realtimeAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := validator.New().Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_channels"})
	}

	authorizer := realtime.NewAuthorizer(entitlements.NewStore(database.GetDB()))

	signingSecret := env.GetEnv("REALTIME_SIGNING_SECRET", "")

	granted := make(map[string]bool, len(req.Channels))
	tokens := make(map[string]string)
	anyGranted := false
	for _, name := range req.Channels {
		ok := authorizer.Authorize(c.UserContext(), userCtx.UserID, name)
		granted[name] = ok
		anyGranted = anyGranted || ok
		if ok && signingSecret != "" {
			token, err := security.GenerateChannelToken(userCtx.UserID, name, channelTokenTTL, signingSecret)
			if err != nil {
				log.Errorf("realtime: channel token generation failed: %v", err)
				continue
			}
			tokens[name] = token
		}
	}

	status := fiber.StatusOK
	if !anyGranted {
		status = fiber.StatusForbidden
	}
	return c.Status(status).JSON(fiber.Map{"channels": granted, "tokens": tokens})
}
