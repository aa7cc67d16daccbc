package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/payward/payward/app/controllers"
	"github.com/payward/payward/internal/pkg/metrics/counter"
	"github.com/payward/payward/internal/pkg/middleware"
)

// ApiRouter wires the payment API. Gateway event intake is unauthenticated
// by design; everything else requires a merchant API key.
type ApiRouter struct {
	transactions  *controllers.TransactionController
	gatewayEvents *controllers.GatewayEventController
	webhookConfig *controllers.WebhookConfigController
}

func NewApiRouter(tc *controllers.TransactionController, gc *controllers.GatewayEventController, wc *controllers.WebhookConfigController) *ApiRouter {
	return &ApiRouter{
		transactions:  tc,
		gatewayEvents: gc,
		webhookConfig: wc,
	}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max: 120,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "payward api",
		})
	})

	v1 := api.Group("/v1")

	// Inbound notifications from the gateway, before any auth middleware.
	v1.Post("/webhooks/gateway-events", h.gatewayEvents.HandleGatewayEvent)

	authed := v1.Group("", middleware.APIKeyAuthMiddleware())

	authed.Post("/transactions/process", h.transactions.HandleProcess)
	authed.Post("/transactions/:id/capture", h.transactions.HandleCapture)
	authed.Post("/transactions/:id/refund", h.transactions.HandleRefund)
	authed.Get("/transactions/:id", h.transactions.HandleGet)
	authed.Get("/transactions", h.transactions.HandleList)

	authed.Post("/webhooks/configs", h.webhookConfig.HandleCreate)
	authed.Get("/webhooks/configs", h.webhookConfig.HandleList)
	authed.Delete("/webhooks/configs/:id", h.webhookConfig.HandleDelete)

	authed.Get("/stats", func(ctx *fiber.Ctx) error {
		snapshot, err := counter.Snapshot()
		if err != nil {
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_server_error",
				"message": "Failed to read counters",
			})
		}
		return ctx.JSON(snapshot)
	})
}
