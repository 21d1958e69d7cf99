package http

import (
	"time"

	"github.com/escrowline/backend/internal/config"
	"github.com/escrowline/backend/internal/http/handlers"
	"github.com/escrowline/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	accountHandler *handlers.AccountHandler,
	transferHandler *handlers.TransferHandler,
	feeHandler *handlers.FeeHandler,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Everything below requires a verified identity token.
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Accounts & ledger
	protected.Post("/accounts", accountHandler.CreateAccount)
	protected.Get("/accounts", accountHandler.ListAccounts)
	protected.Get("/accounts/:id", accountHandler.GetAccount)
	protected.Get("/accounts/:id/balance", accountHandler.GetBalance)
	protected.Get("/accounts/:id/entries", accountHandler.ListLedgerEntries)

	// Transfers: moving money requires KYC.
	protected.Post("/transfers", middleware.RequireKYC(), transferHandler.ExecuteTransfer)
	protected.Get("/transfers", transferHandler.ListTransfers)
	protected.Get("/transfers/:id", transferHandler.GetTransfer)

	// Fees
	protected.Post("/fees/calculate", feeHandler.CalculateFees)
	protected.Get("/fees/rules", feeHandler.ListRules)
	protected.Get("/fees/rules/:id", feeHandler.GetRule)
	protected.Post("/fees/rules", middleware.RequireAdmin(), feeHandler.CreateRule)
	protected.Put("/fees/rules/:id", middleware.RequireAdmin(), feeHandler.UpdateRule)

	// Escrows
	protected.Post("/escrows", escrowHandler.CreateEscrow)
	protected.Get("/escrows", escrowHandler.ListEscrows)
	protected.Get("/escrows/:id", escrowHandler.GetEscrow)
	protected.Post("/escrows/:id/open", escrowHandler.OpenEscrow)
	protected.Post("/escrows/:id/accept", escrowHandler.AcceptEscrow)
	protected.Post("/escrows/:id/cancel", escrowHandler.CancelEscrow)
	protected.Get("/escrows/:id/activity", escrowHandler.GetActivity)

	// Milestones: funding and release move money.
	protected.Post("/escrows/:id/milestones/:milestoneId/fund", middleware.RequireKYC(), escrowHandler.FundMilestone)
	protected.Post("/escrows/:id/milestones/:milestoneId/deliverable", escrowHandler.SubmitDeliverable)
	protected.Post("/escrows/:id/milestones/:milestoneId/release", middleware.RequireKYC(), escrowHandler.ReleaseMilestone)

	// Disputes
	protected.Post("/escrows/:id/disputes", escrowHandler.RaiseDispute)
	protected.Get("/escrows/:id/disputes", escrowHandler.ListDisputes)
	protected.Get("/escrows/:id/disputes/:disputeId", escrowHandler.GetDispute)
	protected.Post("/escrows/:id/disputes/:disputeId/resolve", middleware.RequireKYC(), escrowHandler.ResolveDispute)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
