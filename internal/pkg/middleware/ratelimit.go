package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/querystudio/querystudio/internal/pkg/ratelimit"
)

// RateLimit runs the admission controller for one route class. Denied
// requests get a 429 with a Retry-After hint and never reach the handler.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.RouteClass) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision := limiter.Allow(c.UserContext(), c.IP(), class)

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(decision.RetryAfter(time.Now()).Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests, slow down",
			})
		}
		return c.Next()
	}
}
