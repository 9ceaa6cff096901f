package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"fxadvisor/configs"
	"fxadvisor/internal/database"
	"fxadvisor/internal/delivery"
	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/fetcher"
	"fxadvisor/internal/httpapi"
	"fxadvisor/internal/infra"
	"fxadvisor/internal/learning"
	"fxadvisor/internal/marketcache"
	"fxadvisor/internal/metrics"
	"fxadvisor/internal/positionmonitor"
	"fxadvisor/internal/predictor"
	"fxadvisor/internal/signalmonitor"
	"fxadvisor/internal/store/postgres"
	"fxadvisor/internal/transport"
)

// bootstrapModelVersion is the seed active model used when the registry
// is empty (first boot against a fresh database).
const bootstrapModelVersion = "v1"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := configs.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := connectDatabase(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Printf("[WARN] invalid REDIS_URL, running without mirror: %v", err)
		} else {
			redisClient = redis.NewClient(opts)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Printf("[WARN] redis ping failed, running without mirror: %v", err)
				redisClient = nil
			} else {
				log.Println("[OK] Redis mirror connected")
			}
		}
	}

	candleStore := postgres.NewCandleStore(db)
	signalStore := postgres.NewSignalStore(db)
	subStore := postgres.NewSubscriptionStore(db)
	policyStore := postgres.NewUserPolicyStore(db)
	positionStore := postgres.NewPositionStore(db)
	monitoringStore := postgres.NewPositionMonitoringStore(db)
	modelStore := postgres.NewModelStore(db)
	abtestStore := postgres.NewABTestStore(db)
	trainingLogStore := postgres.NewTrainingLogStore(db)
	receiptStore := postgres.NewNotificationReceiptStore(db)

	activeVersion := bootstrapActiveModel(ctx, modelStore)

	var mirror *marketcache.RedisMirror
	if redisClient != nil {
		mirror = marketcache.NewRedisMirror(redisClient)
	}
	dataFetcher := fetcher.New(cfg.Fetcher.KlinesURL, nil)
	cache := marketcache.New(candleStore, dataFetcher, mirror)

	bus := eventbus.New()
	router := predictor.NewRouter(activeVersion)
	predictorClient := predictor.NewClient(cfg.Predictor.URL, router, predictor.WithTimeout(cfg.Predictor.Timeout))
	trainerClient := predictor.NewTrainerClient(cfg.Predictor.URL)

	var tgTransport domain.Transport = transport.NewTelegramTransport(cfg.Telegram.BotToken)

	deliveryEngine := delivery.New(subStore, policyStore, receiptStore, tgTransport, delivery.Config{
		DedupWindow:     cfg.Tuning.DedupWindow,
		RetryBase:       time.Second,
		RetryFactor:     2,
		MaxAttempts:     3,
		DefaultQuota:    cfg.Tuning.DefaultDailyQuota,
		DefaultCooldown: time.Duration(cfg.Tuning.DefaultCooldownMinutes) * time.Minute,
	})
	deliveryEngine.Wire(bus)

	signalMon := signalmonitor.New(cache, predictorClient, subStore, signalStore, bus, signalmonitor.Config{
		TickInterval:    cfg.Tuning.TickIntervalSignal,
		WorkerPoolSize:  int64(cfg.Tuning.WorkerPoolSignal),
		ConfidenceDelta: cfg.Tuning.ConfidenceDeltaThreshold,
		StopLossPct:     0.005,
		TakeProfitPct:   0.01,
		ShutdownGrace:   10 * time.Second,
	})

	positionMon := positionmonitor.New(positionStore, cache, predictorClient, monitoringStore, receiptStore, policyStore, tgTransport, bus, positionmonitor.Config{
		TickInterval:      cfg.Tuning.TickIntervalPosition,
		BatchSize:         10,
		InterBatchSpacing: time.Second,
		BreakevenPct:      cfg.Tuning.TrailingBreakevenPct,
		LockPct:           cfg.Tuning.TrailingLockPct,
		StaleHoldHours:    float64(cfg.Tuning.StaleHoldHours),
		ShutdownGrace:     10 * time.Second,
	})

	learningController := learning.New(candleStore, signalStore, modelStore, abtestStore, trainingLogStore, trainerClient, router, bus, learning.Config{
		DailyTrainCron:    cfg.Tuning.DailyTrainCron,
		WeeklyTrainCron:   cfg.Tuning.WeeklyTrainCron,
		ABTestDuration:    time.Duration(cfg.Tuning.ABTestDurationDays) * 24 * time.Hour,
		ABTestSplit:       cfg.Tuning.ABTestSplit,
		PromotionEpsilon:  cfg.Tuning.PromotionEpsilon,
		ValidationWindow:  7 * 24 * time.Hour,
		IncrementalWindow: 24 * time.Hour,
		FullTrainWindow:   90 * 24 * time.Hour,
	})

	signalMon.Start(ctx)
	defer signalMon.Stop()

	positionMon.Start(ctx)
	defer positionMon.Stop()

	if err := learningController.Start(ctx); err != nil {
		log.Fatalf("Failed to start learning controller: %v", err)
	}
	defer learningController.Stop()

	log.Println("[OK] Core components started:")
	log.Printf("  - Signal Monitor: every %s", cfg.Tuning.TickIntervalSignal)
	log.Printf("  - Position Monitor: every %s", cfg.Tuning.TickIntervalPosition)
	log.Printf("  - Learning Controller: daily %q, weekly %q", cfg.Tuning.DailyTrainCron, cfg.Tuning.WeeklyTrainCron)
	log.Printf("  - Active model: %s", router.Active())

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	httpapi.SetupRoutes(e, &httpapi.RouterConfig{
		CandleHandler:       httpapi.NewCandleHandler(cache),
		SubscriptionHandler: httpapi.NewSubscriptionHandler(subStore),
		PositionHandler:     httpapi.NewPositionHandler(positionStore),
	})

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	go func() {
		log.Println("========================================")
		log.Printf("[SIGNAL] fxadvisor starting on %s", addr)
		log.Printf("[INFO] Environment: %s", cfg.Server.Env)
		log.Println("========================================")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("Server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("[OK] Server exited gracefully")
}

// connectDatabase retries the initial connection, adapted from the
// teacher's cmd/app/main.go retry loop.
func connectDatabase(ctx context.Context, url string, maxConns, minConns int32) *pgxpool.Pool {
	const maxRetries = 10
	const retryDelay = 5 * time.Second

	var db *pgxpool.Pool
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = infra.NewDatabase(ctx, url, maxConns, minConns)
		if err == nil {
			return db
		}
		if i < maxRetries-1 {
			log.Printf("Failed to connect to database (attempt %d/%d): %v. Retrying in %v...", i+1, maxRetries, err, retryDelay)
			time.Sleep(retryDelay)
		}
	}
	log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	return nil
}

// bootstrapActiveModel returns the currently active model version, or
// seeds and registers bootstrapModelVersion if the registry is empty.
func bootstrapActiveModel(ctx context.Context, models domain.ModelStore) string {
	active, err := models.Active(ctx)
	if err != nil {
		log.Fatalf("Failed to load active model versions: %v", err)
	}
	if len(active) > 1 {
		log.Fatalf("invariant violation: %d active model versions found, expected at most 1", len(active))
	}
	if len(active) == 1 {
		return active[0].Version
	}

	seed := domain.ModelVersion{
		Version:   bootstrapModelVersion,
		Type:      domain.ModelTypeFull,
		TrainedAt: time.Now().UTC(),
		Active:    true,
	}
	if err := models.Save(ctx, seed); err != nil {
		log.Fatalf("Failed to seed bootstrap model version: %v", err)
	}
	if err := models.SetActive(ctx, seed.Version, true); err != nil {
		log.Fatalf("Failed to activate bootstrap model version: %v", err)
	}
	log.Printf("[OK] seeded bootstrap model version %s", seed.Version)
	return seed.Version
}
