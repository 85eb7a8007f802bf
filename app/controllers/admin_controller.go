package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/querystudio/querystudio/app/repository"
	"github.com/querystudio/querystudio/internal/pkg/statistics"
)

// HandleAdminStats returns service-level counters for ops dashboards. The
// headline counters are Redis-cached; the breakdowns are computed live since
// the endpoint is credentialed and low-traffic.
func HandleAdminStats(c *fiber.Ctx) error {
	repos := repository.GetGlobalRepositories()

	byPlan, err := repos.Entitlement.CountActiveByPlan()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	now := time.Now()
	signups, err := repos.User.GetDailySignups(now.AddDate(0, 0, -14), now)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	unprocessed, err := repos.WebhookEvent.CountUnprocessed()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"totals":             statistics.GetStatistics(),
		"active_by_plan":     byPlan,
		"daily_signups":      signups,
		"unprocessed_events": unprocessed,
	})
}
