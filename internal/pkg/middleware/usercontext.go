package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/querystudio/querystudio/internal/pkg/session"
	"github.com/querystudio/querystudio/internal/pkg/usercontext"
)

// UserContext resolves the session into a UserContext local for downstream
// handlers. Session validity itself is the session collaborator's concern;
// whatever identity it yields is trusted here.
func UserContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := session.GetSessionValue(c, usercontext.KeyUserID)
		if rawID == "" {
			return c.Next()
		}
		id, err := strconv.ParseUint(rawID, 10, 32)
		if err != nil || id == 0 {
			return c.Next()
		}

		c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
			UserID:     uint(id),
			Email:      session.GetSessionValue(c, "user_email"),
			IsLoggedIn: true,
		})
		c.Locals(usercontext.KeyFromProtected, true)
		return c.Next()
	}
}
