package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LSSEC_KEY", "key")
	t.Setenv("LSSEC_SECRET", "secret")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("API_KEY", "operator")
	t.Setenv("API_KEY_HASH", "")
	t.Setenv("MOCK_FEED", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("PORT", "")
	t.Setenv("DRY_RUN", "")
	t.Setenv("APP_LANGUAGE", "")
	t.Setenv("API_ENABLED", "")
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "https://openapi.ls-sec.co.kr:8080", cfg.LSSec.BaseURL)
	assert.Equal(t, "wss://openapi.ls-sec.co.kr:9443/websocket", cfg.LSSec.TickURL)
	assert.Equal(t, "wss://openapi.ls-sec.co.kr:29443/websocket", cfg.LSSec.OrderURL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval())
	assert.Equal(t, float64(10), cfg.LSSec.RateLimits["CSPAT00601"])
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, 6*time.Hour, cfg.ChartRefreshInterval())
	assert.Equal(t, 120, cfg.Trading.ChartHistory)
	assert.Equal(t, time.Minute, cfg.BalanceSyncInterval())
	assert.Equal(t, time.Second, cfg.MockTickInterval())
}

func TestLoadMockFeedInDryRun(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DRY_RUN", "true")
	t.Setenv("MOCK_FEED", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.True(t, cfg.App.MockFeed)
}

func TestLoadAPIKeyHashAlone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_KEY", "")
	t.Setenv("API_KEY_HASH", "$2a$10$abcdefghijklmnopqrstuv")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.API.APIKeyHash)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = "7070"
language = "ko"
dry_run = true

[trading]
tick_backlog = 16

[lssec.rate_limits]
t0424 = 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port, "env wins over file")
	assert.Equal(t, "ko", cfg.App.Language)
	assert.True(t, cfg.App.DryRun)
	assert.Equal(t, 16, cfg.Trading.TickBacklog)
	assert.Equal(t, 0.5, cfg.LSSec.RateLimits["t0424"])
}

func TestLoadPostgresFromDatabaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/trading")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing credentials", map[string]string{"LSSEC_KEY": ""}},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"api without secret", map[string]string{"JWT_SECRET": ""}},
		{"api without key", map[string]string{"API_KEY": ""}},
		{"mock feed outside dry run", map[string]string{"MOCK_FEED": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
			assert.Error(t, err)
		})
	}
}
