package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/database"
	"github.com/querystudio/querystudio/internal/pkg/entitlements"
	"github.com/querystudio/querystudio/internal/pkg/usercontext"
)

// HandleGetMyEntitlement reports the caller's current entitlement and the
// feature gates derived from it. The studio UI polls this after receiving an
// entitlement change notification on its account channel.
func HandleGetMyEntitlement(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)

	store := entitlements.NewStore(database.GetDB())
	ent, err := store.Get(c.UserContext(), userID)
	if err != nil {
		log.Errorf("entitlement read failed for user %d: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	plan := entitlements.NormalizePlan(ent.PlanID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"active":               ent.Active,
		"plan":                 string(plan),
		"cancel_at_period_end": ent.CancelAtPeriodEnd,
		"features":             entitlements.FeaturesFor(plan, ent.Active),
	})
}
