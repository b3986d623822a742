package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/robotline/claim-engine/internal/config"
	"github.com/robotline/claim-engine/internal/events"
	"github.com/robotline/claim-engine/internal/handler"
	"github.com/robotline/claim-engine/internal/infra/postgresql"
	"github.com/robotline/claim-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/robotline/claim-engine/internal/infra/redis"
	"github.com/robotline/claim-engine/internal/notifier"
	"github.com/robotline/claim-engine/internal/observability"
	"github.com/robotline/claim-engine/internal/repository"
	"github.com/robotline/claim-engine/internal/service"
	"github.com/robotline/claim-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := events.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := events.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	itemRepo := repository.NewGormWorkItemRepo(db)

	contacts, err := notifier.NewHTTPContactDirectory(cfg.ContactDirectoryURL)
	if err != nil {
		logger.Fatal("contact directory init failed", zap.Error(err))
	}
	completionNotifier, err := notifier.NewWebhookNotifier(cfg.NotifyWebhookURL)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}

	notifySvc, err := service.NewNotifyService(batchRepo, itemRepo, contacts, completionNotifier, publisher, logger, metrics)
	if err != nil {
		logger.Fatal("notify service init failed", zap.Error(err))
	}
	batchSvc, err := service.NewBatchService(batchRepo, itemRepo, publisher, logger, metrics)
	if err != nil {
		logger.Fatal("batch service init failed", zap.Error(err))
	}
	claimSvc, err := service.NewClaimService(itemRepo, batchRepo, logger, metrics)
	if err != nil {
		logger.Fatal("claim service init failed", zap.Error(err))
	}
	reconcileSvc, err := service.NewReconcileService(itemRepo, batchRepo, notifySvc, logger, metrics)
	if err != nil {
		logger.Fatal("reconcile service init failed", zap.Error(err))
	}

	limiter, err := infraredis.NewClaimRateLimiter(rdb, cfg.ClaimRatePerSec)
	if err != nil {
		logger.Fatal("claim rate limiter init failed", zap.Error(err))
	}

	sweeper, err := service.NewLeaseSweeper(
		itemRepo,
		time.Duration(cfg.ClaimLeaseTTLSeconds)*time.Second,
		time.Duration(cfg.LeaseSweepIntervalSecond)*time.Second,
		logger,
		metrics,
	)
	if err != nil {
		logger.Fatal("lease sweeper init failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "claim-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		if rid, ok := c.Locals(requestid.ConfigDefault.ContextKey).(string); ok && strings.TrimSpace(rid) != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), rid))
		}
		return c.Next()
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterBatchRoutes(app, batchSvc, claimSvc, reconcileSvc, notifySvc, limiter, metrics); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		logger.Info("claim-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return sweeper.Start(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := group.Wait(); err != nil {
		logger.Fatal("claim-engine exited with error", zap.Error(err))
	}
	logger.Info("claim-engine stopped")
}
