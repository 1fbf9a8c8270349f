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

	"marketplace/config"
	"marketplace/internal/api"
	"marketplace/internal/broker"
	"marketplace/internal/redisclient"
	"marketplace/internal/service"
	"marketplace/internal/store"
	"marketplace/internal/util"
	"marketplace/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer("marketplace", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	// Redis only deduplicates concurrent retries; the unique idempotency_key
	// column still holds without it.
	var guard service.IdempotencyGuard
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without idempotency guard", zap.Error(err))
	} else {
		defer redisClient.Close()
		guard = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)

	ledger := service.NewInventoryLedger(db, cfg.Business.CompensationTimeout)
	orderService := service.NewOrderService(db, db, ledger, eventPublisher, guard, service.OrderOptions{
		StrictPricing:  cfg.Business.StrictPricing,
		PriceTolerance: cfg.Business.PriceTolerance,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	reviewService := service.NewReviewService(db, db, db, eventPublisher)
	catalogService := service.NewCatalogService(db)
	reconciler := service.NewRatingReconciler(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	ratingWorker := worker.NewRatingWorker(consumer, reconciler)
	go func() {
		if err := ratingWorker.Start(workerCtx); err != nil {
			logger.Error("Rating worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(
		orderService,
		reviewService,
		catalogService,
		api.NewTokenVerifier(cfg.Auth.JWTSecret),
		cfg.Server.RequestTimeout,
	)
	handler.AddReadinessCheck("postgres", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	metricsSrv := util.NewMetricsServer(cfg.Observ.PrometheusPort)
	go func() {
		logger.Info("Starting metrics server", zap.String("port", cfg.Observ.PrometheusPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := ratingWorker.Stop(); err != nil {
		logger.Warn("Failed to stop rating worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
