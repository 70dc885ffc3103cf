package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/voxqueue/tts/internal/audio"
	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/callback"
	"github.com/voxqueue/tts/internal/client"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/engine"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/telemetry"
	"github.com/voxqueue/tts/internal/worker"
)

const serviceName = "voxqueue-tts"

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Server.LogLevel,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}); err != nil {
		logger.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Server.Env,
			Release:     serviceName + "@" + version,
		}); err != nil {
			logger.Warnf("Sentry not initialized: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	var metricsServer *http.Server
	if cfg.Worker.MetricsPort > 0 {
		shutdownMetrics, metricsHandler, err := telemetry.Setup(serviceName+"-worker", cfg.Server.Env)
		if err != nil {
			logger.Fatalf("Failed to set up metrics: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(shutdownCtx)
		}()
		metricsServer = serveMetrics(cfg.Worker.MetricsPort, metricsHandler)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Fatalf("Failed to create instruments: %v", err)
	}

	// Engine
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b := broker.NewRedisBroker(redisClient, broker.Options{
		MetricsWindow: cfg.Metrics.Window,
		DefaultGenerationTime: map[model.Tier]float64{
			model.TierHigh: cfg.Metrics.DefaultGenerationTimeHigh,
			model.TierFast: cfg.Metrics.DefaultGenerationTimeFast,
		},
	})
	defer b.Close()

	opts := []worker.Option{worker.WithMetrics(metrics)}

	if cfg.IsArchiveConfigured() {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			logger.Warnf("Archive disabled: %v", err)
		} else {
			opts = append(opts, worker.WithArchiver(r2))
			logger.Infof("Archiving audio to bucket %s", cfg.R2.BucketName)
		}
	}

	if cfg.Callback.Enabled {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		opts = append(opts, worker.WithCallbacks(callback.NewAsynqEnqueuer(asynqClient, cfg.Callback.MaxRetry, cfg.Callback.Timeout)))
	}

	w, err := worker.New(worker.Config{
		ID:                workerID,
		Tier:              model.Tier(cfg.Worker.Tier),
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HeartbeatTTL:      cfg.Worker.HeartbeatTTL,
		PollInterval:      cfg.Worker.PollInterval,
		ResultTTL:         cfg.Job.ResultTTL,
		Crossfade:         cfg.Chunk.Crossfade,
		Chunker: audio.Chunker{
			MaxDuration:    cfg.Chunk.MaxDuration,
			CharsPerSecond: cfg.Chunk.CharsPerSecond,
		},
	}, b, engine.Exclusive(eng), opts...)
	if err != nil {
		logger.Fatalf("Invalid worker config: %v", err)
	}

	logger.Infof("Worker %s (%s) %s starting, engine=%s", workerID, cfg.Worker.Tier, version, cfg.Engine.Mode)
	runErr := w.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		metricsServer.Shutdown(shutdownCtx)
		cancel()
	}

	if runErr != nil {
		logger.Errorf("Worker %s stopped: %v", workerID, runErr)
		logger.Sync()
		os.Exit(1)
	}
	logger.Infof("Worker %s stopped", workerID)
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func serveMetrics(port int, h http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Metrics listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()
	return srv
}
