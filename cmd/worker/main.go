package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/timkrebs/image-shrink/internal/batch"
	"github.com/timkrebs/image-shrink/internal/cleanup"
	"github.com/timkrebs/image-shrink/internal/config"
	"github.com/timkrebs/image-shrink/internal/database"
	"github.com/timkrebs/image-shrink/internal/logging"
	"github.com/timkrebs/image-shrink/internal/metrics"
	"github.com/timkrebs/image-shrink/internal/processor"
	"github.com/timkrebs/image-shrink/internal/queue"
	"github.com/timkrebs/image-shrink/internal/storage"
	"github.com/timkrebs/image-shrink/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	workerID := fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("worker_id", workerID)

	spec, _ := cfg.ThumbnailSpec()

	// Connect to database
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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
	defer redisClient.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		cancel()
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	cancel()
	logger.Info("connected to redis")

	consumer := queue.NewConsumer(redisClient, queue.ConsumerConfig{
		StreamName:    cfg.QueueStreamName,
		ConsumerGroup: cfg.QueueConsumerGroup,
		ConsumerName:  workerID,
		PollTimeout:   cfg.WorkerPollTimeout,
	}, logger)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if err := consumer.EnsureGroup(ctx); err != nil {
		cancel()
		logger.Error("failed to ensure consumer group", "error", err)
		os.Exit(1)
	}
	cancel()

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
	batchMetrics := metrics.NewBatchMetrics("imageshrink_worker")
	consumer.SetMetrics(metrics.NewQueueMetrics("imageshrink_worker"))
	storageClient.SetMetrics(metrics.NewStorageMetrics("imageshrink_worker"))
	db.SetMetrics(metrics.NewDatabaseMetrics("imageshrink_worker"))

	runner := batch.NewRunner(processor.New(cfg.NewLoader()), spec, cfg.JPEGQuality, logger, batchMetrics)
	w := worker.New(worker.Config{ID: workerID, Retention: cfg.RunRetention},
		runRepo, consumer, runner, storageClient, logger, batchMetrics)

	cleanupWorker := cleanup.NewWorker(runRepo, storageClient, cleanup.Config{
		Interval:  cfg.CleanupInterval,
		BatchSize: cfg.CleanupBatchSize,
	}, logger)

	healthServer := newHealthServer(cfg.HTTPPort, db, logger)
	go func() {
		logger.Info("starting health server", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Runs are executed one at a time; the cleanup loop runs beside them.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanupWorker.Start(ctx)
	}()
	logger.Info("worker started")

	<-ctx.Done()
	logger.Info("shutting down worker...")

	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server forced to shutdown", "error", err)
	}
	logger.Info("worker stopped")
}

func newHealthServer(port int, db *database.DB, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Health(ctx); err != nil {
			logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
