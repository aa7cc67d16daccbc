package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/payward/payward/app/controllers"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/cache"
	"github.com/payward/payward/internal/pkg/database"
	"github.com/payward/payward/internal/pkg/env"
	"github.com/payward/payward/internal/pkg/gateway"
	"github.com/payward/payward/internal/pkg/idempotency"
	"github.com/payward/payward/internal/pkg/ledger"
	"github.com/payward/payward/internal/pkg/router"
	"github.com/payward/payward/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	repos := repository.GetGlobalFactory()

	gatewayClient := gateway.NewClientFromEnv()
	ledgerService := ledger.NewService(
		repos.GetTransactionRepository(),
		gatewayClient,
		ledger.PolicyFromEnv(),
		ledger.GatewayTimeoutFromEnv(),
	)
	guard := idempotency.NewGuard(repos.GetIdempotencyRepository(), idempotency.NewRedisCache())
	dispatcher := webhook.NewDispatcher(repos.GetWebhookRepository())

	retryWorker := webhook.NewWorker(repos.GetWebhookRepository(), repos.GetIdempotencyRepository(), dispatcher)
	retryWorker.Start()

	app := fiber.New(fiber.Config{
		AppName: "payward",
	})

	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app, router.NewApiRouter(
		controllers.NewTransactionController(ledgerService, guard, dispatcher),
		controllers.NewGatewayEventController(ledgerService),
		controllers.NewWebhookConfigController(repos.GetWebhookRepository()),
	))

	return app
}
