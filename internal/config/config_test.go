package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}

func requiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/hookrelay?sslmode=disable")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
}

func TestLoad_Defaults(t *testing.T) {
	requiredEnv(t)
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "redis", cfg.WebhookCache)
	assert.Equal(t, 10*time.Minute, cfg.WebhookCacheTTL)
	assert.Equal(t, 5*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Minute, cfg.RetryBaseDelay)
	assert.Equal(t, 2.0, cfg.RetryMultiplier)
	assert.Equal(t, 90*24*time.Hour, cfg.LedgerRetention)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_EnvOverrides(t *testing.T) {
	requiredEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_BASE_DELAY", "30s")
	t.Setenv("WEBHOOK_CACHE", "Memory")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, "memory", cfg.WebhookCache)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// Empty variables are ignored, so the file supplies these.
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("NUM_WORKERS", "")
	dir := t.TempDir()
	chdir(t, dir)
	content := "DATABASE_URL=postgres://db/hookrelay\nREDIS_URL=redis://cache:6379\nNUM_WORKERS=7\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/hookrelay", cfg.DatabaseURL)
	assert.Equal(t, 7, cfg.NumWorkers)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	_, err := Load("")
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	requiredEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		DatabaseURL:     "postgres://x",
		RedisURL:        "redis://x",
		WebhookCache:    "redis",
		MaxRetries:      3,
		DeliveryTimeout: 5 * time.Second,
		RetryLease:      5 * time.Minute,
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.WebhookCache = "memcached"
	assert.Error(t, bad.Validate())

	bad = base
	bad.MaxRetries = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.RetryLease = time.Second
	assert.Error(t, bad.Validate())
}
