package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the API server and workers.
type Config struct {
	HTTPPort   string
	JWTSecret  []byte
	Database   DatabaseConfig
	Redis      RedisConfig
	OpenRouter OpenRouterConfig
	Queue      QueueConfig
	Archive    ArchiveConfig
	Email      EmailConfig
	Log        LogConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OpenRouterConfig holds settings for the completion API and its model catalog
type OpenRouterConfig struct {
	APIKey          string
	BaseURL         string
	DefaultModel    string
	RequestTimeout  time.Duration
	PricingCacheTTL time.Duration
	Referer         string // sent as HTTP-Referer
	Title           string // sent as X-Title
	RateLimit       int    // requests per user per minute, 0 for unlimited
}

// QueueConfig holds background job settings
type QueueConfig struct {
	Backend      string // redis or memory
	MaxRetries   int
	RetryBackoff time.Duration
	PollTimeout  time.Duration
	Inline       bool // run workers inside the API process
}

// ArchiveConfig holds configuration for the S3 usage archive
type ArchiveConfig struct {
	Enabled       bool          // Whether to archive usage entries to S3
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush to S3 after this many entries
	FlushInterval time.Duration // Flush to S3 after this duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string // Prefix for S3 keys (e.g., "usage/")
	S3Endpoint    string // Optional S3-compatible endpoint
	PodName       string // Pod identifier for multi-pod deployments
}

// EmailConfig holds transactional email settings. An empty API key
// disables delivery.
type EmailConfig struct {
	ResendAPIKey string
	BaseURL      string
	From         string
}

// LogConfig holds process log settings
type LogConfig struct {
	Level      string
	Format     string // text or json
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// loadDotEnv loads the first .env file found. Variables already set in the
// environment win.
func loadDotEnv() {
	paths := []string{".env", "../.env", "../../.env"}
	if custom := os.Getenv("ENV_FILE"); custom != "" {
		paths = append([]string{custom}, paths...)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// devJWTSecret is only accepted with AUTH_ALLOW_DEV_SECRET=true
const devJWTSecret = "supersecretkey"

func jwtSecret() ([]byte, error) {
	if secret := os.Getenv("AUTH_JWT_SECRET"); secret != "" {
		return []byte(secret), nil
	}
	if getEnvBool("AUTH_ALLOW_DEV_SECRET", false) {
		return []byte(devJWTSecret), nil
	}
	return nil, fmt.Errorf("AUTH_JWT_SECRET is required (set AUTH_ALLOW_DEV_SECRET=true to use the development secret)")
}

// Load reads configuration from an optional .env file and environment variables.
func Load() (*Config, error) {
	loadDotEnv()

	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}

	driver := strings.ToLower(getEnvString("DATABASE_DRIVER", "postgres"))
	dbURL := os.Getenv("DATABASE_URL")
	switch driver {
	case "postgres":
		if dbURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case "sqlite":
		if dbURL == "" {
			dbURL = "file:saas.db?_pragma=busy_timeout(5000)"
		}
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER %q", driver)
	}

	queueBackend := strings.ToLower(getEnvString("QUEUE_BACKEND", "redis"))
	if queueBackend != "redis" && queueBackend != "memory" {
		return nil, fmt.Errorf("unsupported QUEUE_BACKEND %q", queueBackend)
	}

	cfg := &Config{
		HTTPPort:  getEnvString("HTTP_PORT", "3001"),
		JWTSecret: secret,
		Database: DatabaseConfig{
			Driver:          driver,
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          getEnvString("REDIS_URL", "redis://localhost:6379"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		OpenRouter: OpenRouterConfig{
			APIKey:          os.Getenv("OPENROUTER_API_KEY"),
			BaseURL:         strings.TrimRight(getEnvString("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			DefaultModel:    getEnvString("OPENROUTER_DEFAULT_MODEL", "openai/gpt-4o-mini"),
			RequestTimeout:  getEnvDuration("OPENROUTER_TIMEOUT", 120*time.Second),
			PricingCacheTTL: getEnvDuration("PRICING_CACHE_TTL", 24*time.Hour),
			Referer:         getEnvString("OPENROUTER_REFERER", ""),
			Title:           getEnvString("OPENROUTER_TITLE", ""),
			RateLimit:       getEnvInt("AI_RATE_LIMIT_PER_MINUTE", 60),
		},
		Queue: QueueConfig{
			Backend:      queueBackend,
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", 1*time.Second),
			PollTimeout:  getEnvDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
			Inline:       getEnvBool("WORKERS_INLINE", true),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvBool("USAGE_ARCHIVE_ENABLED", false),
			BufferSize:    getEnvInt("USAGE_ARCHIVE_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("USAGE_ARCHIVE_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_ARCHIVE_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("USAGE_ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnvString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			S3Endpoint:    getEnvString("USAGE_ARCHIVE_S3_ENDPOINT", ""),
			PodName:       getEnvString("POD_NAME", "api-0"),
		},
		Email: EmailConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			BaseURL:      strings.TrimRight(getEnvString("RESEND_BASE_URL", "https://api.resend.com"), "/"),
			From:         getEnvString("EMAIL_FROM", "onboarding@resend.dev"),
		},
		Log: LogConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			Format:     getEnvString("LOG_FORMAT", "text"),
			File:       getEnvString("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if cfg.Archive.Enabled && cfg.Archive.S3Bucket == "" {
		return nil, fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when USAGE_ARCHIVE_ENABLED is set")
	}

	return cfg, nil
}
