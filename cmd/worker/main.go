package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrowline/backend/internal/config"
	"github.com/escrowline/backend/internal/db"
	"github.com/escrowline/backend/internal/events"
	"github.com/escrowline/backend/internal/repositories"
	"github.com/escrowline/backend/internal/services"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.DBMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	accountRepo := repositories.NewAccountRepo(pool)
	transferRepo := repositories.NewTransferRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	feeRuleRepo := repositories.NewFeeRuleRepo(pool)
	activityRepo := repositories.NewActivityRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	feeService := services.NewFeeService(feeRuleRepo, log)
	transferService := services.NewTransferService(pool, accountRepo, transferRepo, activityRepo, feeService, publisher, cfg, log)
	escrowService := services.NewEscrowService(pool, escrowRepo, accountRepo, activityRepo, transferService, publisher, cfg, log)

	log.Info("worker started")

	// Run jobs on tickers
	autoReleaseTicker := time.NewTicker(1 * time.Minute)
	expiryTicker := time.NewTicker(5 * time.Minute)
	disputeTicker := time.NewTicker(15 * time.Minute)
	defer autoReleaseTicker.Stop()
	defer expiryTicker.Stop()
	defer disputeTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-autoReleaseTicker.C:
			if n := escrowService.AutoReleaseDue(ctx, sweepBatchSize); n > 0 {
				log.Info("auto-released milestones", zap.Int("count", n))
			}
		case <-expiryTicker.C:
			if n := escrowService.ExpireStale(ctx, sweepBatchSize); n > 0 {
				log.Info("cancelled expired escrows", zap.Int("count", n))
			}
		case <-disputeTicker.C:
			if n := escrowService.NotifyOverdueDisputes(ctx, sweepBatchSize); n > 0 {
				log.Info("notified overdue disputes", zap.Int("count", n))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
