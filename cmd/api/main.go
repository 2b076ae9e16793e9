package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-shrink/internal/api"
	"github.com/timkrebs/image-shrink/internal/config"
	"github.com/timkrebs/image-shrink/internal/database"
	"github.com/timkrebs/image-shrink/internal/logging"
	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/processor"
	"github.com/timkrebs/image-shrink/internal/queue"
	"github.com/timkrebs/image-shrink/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting imageshrink api")

	spec, _ := cfg.ThumbnailSpec()

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	runRepo := database.NewRunRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := runRepo.Migrate(ctx); err != nil {
		cancel()
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to database")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("failed to close redis", "error", err)
		}
	}()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		return
	}
	cancel()
	logger.Info("connected to redis")

	producer := queue.NewProducer(redisClient, cfg.QueueStreamName)

	// Connect to MinIO
	storageClient, err := storage.New(storage.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
	})
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := storageClient.EnsureBucket(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure bucket", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to minio", "bucket", cfg.MinIOBucket)

	// Initialize metrics
	httpMetrics := metrics.NewHTTPMetrics("imageshrink_api")
	storageClient.SetMetrics(metrics.NewStorageMetrics("imageshrink_api"))
	db.SetMetrics(metrics.NewDatabaseMetrics("imageshrink_api"))
	producer.SetMetrics(metrics.NewQueueMetrics("imageshrink_api"))

	handlers := api.NewHandlers(
		runRepo,
		producer,
		storageClient,
		processor.New(cfg.NewLoader()),
		spec,
		cfg.JPEGQuality,
		cfg.QueueConsumerGroup,
		logger,
	)
	handlers.AddHealthCheck("database", db)
	handlers.AddHealthCheck("storage", storageClient)

	router := api.NewRouter(handlers, httpMetrics, cfg.MaxUploadSize, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Info("starting API server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
