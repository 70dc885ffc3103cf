package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/voxqueue/tts/internal/broker"
	"github.com/voxqueue/tts/internal/callback"
	"github.com/voxqueue/tts/internal/config"
	"github.com/voxqueue/tts/internal/handler"
	"github.com/voxqueue/tts/internal/logger"
	"github.com/voxqueue/tts/internal/middleware"
	"github.com/voxqueue/tts/internal/model"
	"github.com/voxqueue/tts/internal/service"
	"github.com/voxqueue/tts/internal/telemetry"
	ws "github.com/voxqueue/tts/internal/websocket"
)

const serviceName = "voxqueue-tts"

// set with -ldflags "-X main.version=..."
var version = "dev"

// @title          VoxQueue TTS API
// @version        1.0
// @description    Queued text-to-speech synthesis over a pool of GPU workers.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
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

	shutdownMetrics, metricsHandler, err := telemetry.Setup(serviceName+"-gateway", cfg.Server.Env)
	if err != nil {
		logger.Fatalf("Failed to set up metrics: %v", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Fatalf("Failed to create instruments: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis not available: %v", err)
	}

	// Blocking /synthesize waits get their own pool so they cannot starve
	// health checks and async submissions
	waitOpts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Job.MaxSyncWaiters > 0 {
		waitOpts.PoolSize = cfg.Job.MaxSyncWaiters
	}
	waitClient := redis.NewClient(waitOpts)

	b := broker.NewRedisBroker(redisClient, broker.Options{
		MetricsWindow: cfg.Metrics.Window,
		DefaultGenerationTime: map[model.Tier]float64{
			model.TierHigh: cfg.Metrics.DefaultGenerationTimeHigh,
			model.TierFast: cfg.Metrics.DefaultGenerationTimeFast,
		},
		WaitClient: waitClient,
	})
	defer b.Close()

	// Initialize validator
	validate := validator.New()

	synthesisService := service.NewSynthesisService(b, validate, service.OptionsFromConfig(cfg), metrics)
	voiceSampleService := service.NewVoiceSampleService(redisClient, validate, cfg.Samples.MaxDefault)

	// Initialize WebSocket hub and feed it worker events
	hub := ws.NewHub(synthesisService)
	go hub.Run(ctx)
	go relayEvents(ctx, b, hub)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		logger.Debugf("Debug logging enabled")
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept",
		ExposeHeaders: "X-Job-Id,X-Generation-Time,X-Audio-Duration,X-Queue-Wait-Time,X-Queue-Position,Content-Disposition",
	}))

	handler.Register(app,
		handler.NewSynthesizeHandler(synthesisService),
		handler.NewJobHandler(synthesisService),
		handler.NewVoiceSampleHandler(voiceSampleService),
		handler.NewSystemHandler(synthesisService, serviceName, version),
		rateLimiter.SynthesizeLimit(cfg.RateLimit.SynthesizePerMin),
	)

	// Prometheus scrape endpoint
	app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start callback delivery server
	var callbackServer *asynq.Server
	if cfg.Callback.Enabled {
		callbackServer = startCallbackServer(cfg)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Infof("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	logger.Infof("Gateway %s starting on %s", version, addr)
	if err := app.Listen(addr); err != nil {
		logger.Errorf("Server error: %v", err)
	}

	cancel()
	if callbackServer != nil {
		callbackServer.Shutdown()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownMetrics(shutdownCtx); err != nil {
		logger.Warnf("Metrics shutdown error: %v", err)
	}
}

// relayEvents keeps a broker event subscription alive for the hub, resubscribing after outages
func relayEvents(ctx context.Context, b broker.Broker, hub *ws.Hub) {
	for ctx.Err() == nil {
		stream, err := backoff.Retry(ctx, func() (*broker.EventStream, error) {
			return b.SubscribeEvents(ctx)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warnf("Job event subscription failed (retry in %s): %v", next.Round(time.Millisecond), err)
			}),
		)
		if err != nil {
			return
		}

		logger.Infof("Relaying job events to websocket clients")
		hub.Relay(ctx, stream)
		stream.Close()
	}
}

func startCallbackServer(cfg *config.Config) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				callback.Queue: 1,
			},
			Logger:   logger.AsynqLogger{},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(callback.TaskTypeDeliver, callback.NewDeliverer(cfg.Callback.Timeout).ProcessTask)

	if err := srv.Start(mux); err != nil {
		logger.Errorf("Callback server error: %v", err)
		return nil
	}
	logger.Infof("Callback delivery server started")
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
