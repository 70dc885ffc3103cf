package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Job       JobConfig
	Text      TextConfig
	Worker    WorkerConfig
	Engine    EngineConfig
	Chunk     ChunkConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Callback  CallbackConfig
	Samples   SamplesConfig
	R2        R2Config
	Sentry    SentryConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig bounds each tier queue; zero means unbounded
type QueueConfig struct {
	MaxLengthHigh int
	MaxLengthFast int
}

// MaxLength returns the configured bound for a tier name
func (q QueueConfig) MaxLength(tier string) int {
	if tier == "fast" {
		return q.MaxLengthFast
	}
	return q.MaxLengthHigh
}

type JobConfig struct {
	DefaultTier    string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	ResultTTL      time.Duration
	MaxSyncWaiters int // concurrent blocking /synthesize calls per gateway; 0 = unbounded
}

type TextConfig struct {
	MaxLength int
}

type WorkerConfig struct {
	ID                string
	Tier              string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	PollInterval      time.Duration
	MetricsPort       int
}

type EngineConfig struct {
	Mode    string // "tone" or "http"
	URL     string
	Timeout time.Duration
}

type ChunkConfig struct {
	MaxDuration    time.Duration
	CharsPerSecond float64
	Crossfade      time.Duration
}

type MetricsConfig struct {
	Window                    int
	DefaultGenerationTimeHigh float64 // seconds
	DefaultGenerationTimeFast float64 // seconds
}

type RateLimitConfig struct {
	SynthesizePerMin int
}

type CallbackConfig struct {
	Enabled  bool
	Timeout  time.Duration
	MaxRetry int
}

// SamplesConfig bounds the saved voice sample library
type SamplesConfig struct {
	MaxDefault int // unnamed samples kept before the oldest is evicted
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type SentryConfig struct {
	DSN string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("SENTRY_DSN")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("log.file", "LOG_FILE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("queue.max_length_high", "QUEUE_MAX_LENGTH_HIGH")
	_ = v.BindEnv("queue.max_length_fast", "QUEUE_MAX_LENGTH_FAST")
	_ = v.BindEnv("job.default_tier", "DEFAULT_QUALITY")
	_ = v.BindEnv("job.default_timeout", "JOB_TIMEOUT")
	_ = v.BindEnv("job.max_timeout", "JOB_MAX_TIMEOUT")
	_ = v.BindEnv("job.result_ttl", "RESULT_TTL")
	_ = v.BindEnv("job.max_sync_waiters", "MAX_SYNC_WAITERS")
	_ = v.BindEnv("text.max_length", "MAX_TEXT_LENGTH")
	_ = v.BindEnv("worker.id", "WORKER_ID")
	_ = v.BindEnv("worker.tier", "QUALITY")
	_ = v.BindEnv("worker.heartbeat_interval", "HEARTBEAT_INTERVAL")
	_ = v.BindEnv("worker.heartbeat_ttl", "HEARTBEAT_TTL")
	_ = v.BindEnv("worker.poll_interval", "POLL_INTERVAL")
	_ = v.BindEnv("worker.metrics_port", "WORKER_METRICS_PORT")
	_ = v.BindEnv("engine.mode", "ENGINE_MODE")
	_ = v.BindEnv("engine.url", "ENGINE_URL")
	_ = v.BindEnv("engine.timeout", "ENGINE_TIMEOUT")
	_ = v.BindEnv("chunk.max_duration", "CHUNK_MAX_DURATION")
	_ = v.BindEnv("chunk.chars_per_second", "CHUNK_CHARS_PER_SECOND")
	_ = v.BindEnv("chunk.crossfade", "CHUNK_CROSSFADE")
	_ = v.BindEnv("ratelimit.synthesize_per_min", "RATELIMIT_SYNTHESIZE_PER_MIN")
	_ = v.BindEnv("callback.enabled", "CALLBACK_ENABLED")
	_ = v.BindEnv("samples.max_default", "SAMPLES_MAX_DEFAULT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")

	setDefaults(v)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			MaxLengthHigh: v.GetInt("queue.max_length_high"),
			MaxLengthFast: v.GetInt("queue.max_length_fast"),
		},
		Job: JobConfig{
			DefaultTier:    strings.ToLower(v.GetString("job.default_tier")),
			DefaultTimeout: v.GetDuration("job.default_timeout"),
			MaxTimeout:     v.GetDuration("job.max_timeout"),
			ResultTTL:      v.GetDuration("job.result_ttl"),
			MaxSyncWaiters: v.GetInt("job.max_sync_waiters"),
		},
		Text: TextConfig{
			MaxLength: v.GetInt("text.max_length"),
		},
		Worker: WorkerConfig{
			ID:                v.GetString("worker.id"),
			Tier:              strings.ToLower(v.GetString("worker.tier")),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			HeartbeatTTL:      v.GetDuration("worker.heartbeat_ttl"),
			PollInterval:      v.GetDuration("worker.poll_interval"),
			MetricsPort:       v.GetInt("worker.metrics_port"),
		},
		Engine: EngineConfig{
			Mode:    strings.ToLower(v.GetString("engine.mode")),
			URL:     v.GetString("engine.url"),
			Timeout: v.GetDuration("engine.timeout"),
		},
		Chunk: ChunkConfig{
			MaxDuration:    v.GetDuration("chunk.max_duration"),
			CharsPerSecond: v.GetFloat64("chunk.chars_per_second"),
			Crossfade:      v.GetDuration("chunk.crossfade"),
		},
		Metrics: MetricsConfig{
			Window:                    v.GetInt("metrics.window"),
			DefaultGenerationTimeHigh: v.GetFloat64("metrics.default_generation_time_high"),
			DefaultGenerationTimeFast: v.GetFloat64("metrics.default_generation_time_fast"),
		},
		RateLimit: RateLimitConfig{
			SynthesizePerMin: v.GetInt("ratelimit.synthesize_per_min"),
		},
		Callback: CallbackConfig{
			Enabled:  v.GetBool("callback.enabled"),
			Timeout:  v.GetDuration("callback.timeout"),
			MaxRetry: v.GetInt("callback.max_retry"),
		},
		Samples: SamplesConfig{
			MaxDefault: v.GetInt("samples.max_default"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Sentry: SentryConfig{
			DSN: v.GetString("sentry.dsn"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 50)

	v.SetDefault("log.max_size_mb", 64)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.max_length_high", 100)
	v.SetDefault("queue.max_length_fast", 100)

	v.SetDefault("job.default_tier", "high")
	v.SetDefault("job.default_timeout", 120*time.Second)
	v.SetDefault("job.max_timeout", 600*time.Second)
	v.SetDefault("job.result_ttl", 300*time.Second)
	v.SetDefault("job.max_sync_waiters", 200)

	v.SetDefault("text.max_length", 5000)

	v.SetDefault("worker.tier", "high")
	v.SetDefault("worker.heartbeat_interval", 10*time.Second)
	v.SetDefault("worker.heartbeat_ttl", 30*time.Second)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.metrics_port", 0)

	v.SetDefault("engine.mode", "tone")
	v.SetDefault("engine.url", "http://localhost:8090")
	v.SetDefault("engine.timeout", 120*time.Second)

	v.SetDefault("chunk.max_duration", 15*time.Second)
	v.SetDefault("chunk.chars_per_second", 14.0)
	v.SetDefault("chunk.crossfade", 150*time.Millisecond)

	v.SetDefault("metrics.window", 50)
	v.SetDefault("metrics.default_generation_time_high", 3.0)
	v.SetDefault("metrics.default_generation_time_fast", 1.5)

	v.SetDefault("ratelimit.synthesize_per_min", 60)

	v.SetDefault("callback.enabled", true)
	v.SetDefault("callback.timeout", 10*time.Second)
	v.SetDefault("callback.max_retry", 5)

	v.SetDefault("samples.max_default", 3)
}

// Validate rejects settings the worker loop and gateway cannot run with
func (c *Config) Validate() error {
	if c.Worker.Tier != "high" && c.Worker.Tier != "fast" {
		return fmt.Errorf("worker tier must be high or fast, got %q", c.Worker.Tier)
	}
	if c.Job.DefaultTier != "high" && c.Job.DefaultTier != "fast" {
		return fmt.Errorf("default job tier must be high or fast, got %q", c.Job.DefaultTier)
	}
	if c.Job.MaxSyncWaiters < 0 {
		return fmt.Errorf("max sync waiters must not be negative")
	}
	if c.Worker.HeartbeatTTL <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("heartbeat ttl (%s) must exceed heartbeat interval (%s)",
			c.Worker.HeartbeatTTL, c.Worker.HeartbeatInterval)
	}
	if c.Worker.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got %s", c.Worker.PollInterval)
	}
	if c.Text.MaxLength <= 0 {
		return fmt.Errorf("max text length must be positive")
	}
	if c.Job.DefaultTimeout <= 0 || c.Job.DefaultTimeout > c.Job.MaxTimeout {
		return fmt.Errorf("default job timeout must be in (0, %s]", c.Job.MaxTimeout)
	}
	if c.Engine.Mode != "tone" && c.Engine.Mode != "http" {
		return fmt.Errorf("engine mode must be tone or http, got %q", c.Engine.Mode)
	}
	return nil
}

// IsArchiveConfigured reports whether completed audio should be copied to object storage
func (c *Config) IsArchiveConfigured() bool {
	return c.R2.AccountID != "" && c.R2.AccessKeyID != "" && c.R2.SecretAccessKey != "" && c.R2.BucketName != ""
}
