package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", "does-not-exist.env")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("AUTH_ALLOW_DEV_SECRET", "")
	t.Setenv("RESEND_API_KEY", "")
	t.Setenv("EMAIL_FROM", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/saas?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.HTTPPort)
	assert.Equal(t, []byte("test-secret"), cfg.JWTSecret)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.OpenRouter.DefaultModel)
	assert.Equal(t, 24*time.Hour, cfg.OpenRouter.PricingCacheTTL)
	assert.Equal(t, 60, cfg.OpenRouter.RateLimit)
	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.False(t, cfg.Archive.Enabled)
	assert.Empty(t, cfg.Email.ResendAPIKey)
	assert.Equal(t, "onboarding@resend.dev", cfg.Email.From)
	assert.Equal(t, "https://api.resend.com", cfg.Email.BaseURL)
}

func TestLoad_RequiresDatabaseURLForPostgres(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_SQLiteDefaultsPath(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.Database.URL, "saas.db")
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/saas")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("OPENROUTER_BASE_URL", "http://localhost:4000/api/v1/")
	t.Setenv("QUEUE_BACKEND", "memory")
	t.Setenv("QUEUE_RETRY_BACKOFF", "250ms")
	t.Setenv("WORKERS_INLINE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "http://localhost:4000/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryBackoff)
	assert.False(t, cfg.Queue.Inline)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/saas")
	t.Setenv("DB_MAX_OPEN_CONNS", "many")
	t.Setenv("OPENROUTER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 120*time.Second, cfg.OpenRouter.RequestTimeout)
}

func TestLoad_RejectsUnknownBackends(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/saas")
	t.Setenv("QUEUE_BACKEND", "kafka")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ArchiveRequiresBucket(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/saas")
	t.Setenv("USAGE_ARCHIVE_ENABLED", "true")
	t.Setenv("USAGE_ARCHIVE_S3_BUCKET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_JWTSecret(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://db/saas")

	t.Run("missing", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
	})

	t.Run("dev flag", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "")
		t.Setenv("AUTH_ALLOW_DEV_SECRET", "true")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []byte(devJWTSecret), cfg.JWTSecret)
	})

	t.Run("explicit secret ignores dev flag", func(t *testing.T) {
		t.Setenv("AUTH_JWT_SECRET", "prod-secret")
		t.Setenv("AUTH_ALLOW_DEV_SECRET", "true")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, []byte("prod-secret"), cfg.JWTSecret)
	})
}
