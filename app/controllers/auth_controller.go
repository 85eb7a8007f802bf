package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/querystudio/querystudio/app/models"
	"github.com/querystudio/querystudio/app/repository"
	"github.com/querystudio/querystudio/internal/pkg/session"
	"github.com/querystudio/querystudio/internal/pkg/usercontext"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin authenticates a studio user and establishes the session that
// the realtime and license endpoints derive identity from.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	if user.Status != models.STATUS_ACTIVE || !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
	}

	if err := session.SetSessionValue(c, usercontext.KeyUserID, strconv.FormatUint(uint64(user.ID), 10)); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_failed"})
	}
	_ = session.SetSessionValue(c, "user_email", user.Email)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "user_id": user.ID})
}

// HandleLogout clears the session.
func HandleLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
