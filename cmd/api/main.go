package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrowline/backend/internal/config"
	"github.com/escrowline/backend/internal/db"
	"github.com/escrowline/backend/internal/events"
	apphttp "github.com/escrowline/backend/internal/http"
	"github.com/escrowline/backend/internal/http/handlers"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/escrowline/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	accountRepo := repositories.NewAccountRepo(pool)
	transferRepo := repositories.NewTransferRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	feeRuleRepo := repositories.NewFeeRuleRepo(pool)
	activityRepo := repositories.NewActivityRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	feeService := services.NewFeeService(feeRuleRepo, log)
	transferService := services.NewTransferService(pool, accountRepo, transferRepo, activityRepo, feeService, publisher, cfg, log)
	escrowService := services.NewEscrowService(pool, escrowRepo, accountRepo, activityRepo, transferService, publisher, cfg, log)

	// Handlers
	accountHandler := handlers.NewAccountHandler(transferService, log)
	transferHandler := handlers.NewTransferHandler(transferService, log)
	feeHandler := handlers.NewFeeHandler(feeService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, accountHandler, transferHandler, feeHandler, escrowHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
