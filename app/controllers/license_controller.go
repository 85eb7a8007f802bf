package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/querystudio/querystudio/internal/pkg/database"
	"github.com/querystudio/querystudio/internal/pkg/license"
)

// Request/response field names mirror the desktop client's serde mapping
// (camelCase), so these shapes must not drift casually.

type validateLicenseRequest struct {
	LicenseKey string `json:"licenseKey"`
}

type activateLicenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type deactivateLicenseRequest struct {
	LicenseKey   string `json:"licenseKey"`
	ActivationID string `json:"activationId"`
}

// HandleLicenseValidate checks a desktop license key.
func HandleLicenseValidate(c *fiber.Ctx) error {
	var req validateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"valid": false, "error": "invalid request body"})
	}

	svc := license.NewServiceFromDB(database.GetDB())
	result, err := svc.Validate(c.UserContext(), req.LicenseKey)
	if err != nil {
		log.Errorf("license validate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"valid": false, "error": "internal error"})
	}

	if !result.Valid {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"valid": false, "error": result.Reason})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"valid": true, "license": result.License})
}

// HandleLicenseActivate registers a device against a license key.
func HandleLicenseActivate(c *fiber.Ctx) error {
	var req activateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}

	svc := license.NewServiceFromDB(database.GetDB())
	result, err := svc.Activate(c.UserContext(), req.LicenseKey, req.DeviceID, req.DeviceName)
	if err != nil {
		log.Errorf("license activate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal error"})
	}

	if !result.Success {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false, "error": result.Reason})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success":      true,
		"activationId": result.ActivationID,
		"license":      result.License,
	})
}

// HandleLicenseDeactivate releases a device activation.
func HandleLicenseDeactivate(c *fiber.Ctx) error {
	var req deactivateLicenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}

	svc := license.NewServiceFromDB(database.GetDB())
	ok, reason, err := svc.Deactivate(c.UserContext(), req.LicenseKey, req.ActivationID)
	if err != nil {
		log.Errorf("license deactivate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "internal error"})
	}

	if !ok {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": false, "error": reason})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true})
}
