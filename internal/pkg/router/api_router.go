package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/querystudio/querystudio/app/controllers"
	"github.com/querystudio/querystudio/internal/pkg/cache"
	"github.com/querystudio/querystudio/internal/pkg/constants"
	"github.com/querystudio/querystudio/internal/pkg/env"
	"github.com/querystudio/querystudio/internal/pkg/middleware"
	"github.com/querystudio/querystudio/internal/pkg/ratelimit"
	"github.com/querystudio/querystudio/internal/pkg/session"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	session.NewSessionStore()

	limiter := ratelimit.New(
		ratelimit.NewRedisCounter(cache.GetClient()),
		ratelimit.DefaultPolicies(),
	)

	api := app.Group(constants.APIRoute, middleware.UserContext())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "querystudio api",
		})
	})

	// Provider webhook ingress: its own admission bucket so bursty realtime
	// churn cannot starve event deliveries (and vice versa).
	api.Post(constants.WebhookRoute,
		middleware.RateLimit(limiter, ratelimit.ClassIngestion),
		controllers.HandleBillingWebhook,
	)

	// Realtime channel authorization, session-scoped.
	api.Post("/realtime/auth",
		middleware.RateLimit(limiter, ratelimit.ClassRealtime),
		middleware.RequireAPISessionAuth,
		controllers.HandleRealtimeAuth,
	)

	// Desktop license API. Auth-sensitive, shares the realtime class.
	licenseGroup := api.Group("/license", middleware.RateLimit(limiter, ratelimit.ClassRealtime))
	licenseGroup.Post("/validate", controllers.HandleLicenseValidate)
	licenseGroup.Post("/activate", controllers.HandleLicenseActivate)
	licenseGroup.Post("/deactivate", controllers.HandleLicenseDeactivate)

	// Session management for the web studio.
	api.Post("/auth/login",
		middleware.RateLimit(limiter, ratelimit.ClassRealtime),
		controllers.HandleLogin,
	)
	api.Post("/auth/logout", controllers.HandleLogout)

	api.Get("/me/entitlement",
		middleware.RequireAPISessionAuth,
		controllers.HandleGetMyEntitlement,
	)

	// Ops-facing counters, same credentials as /metrics.
	api.Get("/admin/stats", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), controllers.HandleAdminStats)
}
