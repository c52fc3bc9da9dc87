package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds file and environment driven settings for the trading core.
// Secrets are only ever read from the environment.
type Config struct {
	App struct {
		Port            string `toml:"port"`
		Language        string `toml:"language"`
		LogLevel        string `toml:"log_level"`
		LogPretty       bool   `toml:"log_pretty"`
		DryRun          bool   `toml:"dry_run"`
		DryRunLatencyMs int    `toml:"dry_run_latency_ms"`
		MockFeed        bool   `toml:"mock_feed"`
		MockTickMs      int    `toml:"mock_tick_ms"`
	} `toml:"app"`

	LSSec struct {
		AppKey         string             `toml:"-"`
		AppSecret      string             `toml:"-"`
		BaseURL        string             `toml:"base_url"`
		TickURL        string             `toml:"tick_url"`
		OrderURL       string             `toml:"order_url"`
		HTTPTimeoutSec int                `toml:"http_timeout_sec"`
		RatePerSecond  float64            `toml:"rate_per_second"`
		RateLimits     map[string]float64 `toml:"rate_limits"`
	} `toml:"lssec"`

	Stream struct {
		ReconnectMinMs  int `toml:"reconnect_min_ms"`
		ReconnectMaxMs  int `toml:"reconnect_max_ms"`
		PingIntervalSec int `toml:"ping_interval_sec"`
		EventBuffer     int `toml:"event_buffer"`
	} `toml:"stream"`

	Database struct {
		Driver   string `toml:"driver"` // sqlite or postgres
		Path     string `toml:"path"`
		URL      string `toml:"-"`
		MinConns int    `toml:"min_conns"`
		MaxConns int    `toml:"max_conns"`
	} `toml:"database"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"-"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
	} `toml:"redis"`

	Trading struct {
		TickBacklog    int    `toml:"tick_backlog"`
		OrderQueueSize int    `toml:"order_queue_size"`
		StrategiesFile string `toml:"strategies_file"`
		OutboxPath     string `toml:"outbox_path"`
		ChartHistory   int    `toml:"chart_history"`
		ChartRefresh   int    `toml:"chart_refresh_min"`
	} `toml:"trading"`

	Risk struct {
		MaxOrderQty      int64   `toml:"max_order_qty"`
		MaxOrderNotional float64 `toml:"max_order_notional"`
		MaxPositionQty   int64   `toml:"max_position_qty"`
		MaxDailyOrders   int     `toml:"max_daily_orders"`
		BalanceSyncSec   int     `toml:"balance_sync_sec"`
	} `toml:"risk"`

	Reconcile struct {
		IntervalSec   int `toml:"interval_sec"`
		StaleAfterSec int `toml:"stale_after_sec"`
	} `toml:"reconcile"`

	API struct {
		Enabled     bool   `toml:"enabled"`
		JWTSecret   string `toml:"-"`
		APIKey      string `toml:"-"`
		APIKeyHash  string `toml:"-"` // bcrypt hash; preferred over APIKey
		TokenTTLMin int    `toml:"token_ttl_min"`
	} `toml:"api"`
}

// Load reads .env, then the optional TOML file at path (CONFIG_FILE or config.toml when
// empty), then environment overrides, then defaults.
func Load(path string) (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	if path == "" {
		path = getEnv("CONFIG_FILE", "config.toml")
	}

	var cfg Config
	cfg.API.Enabled = true
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LSSec.AppKey = os.Getenv("LSSEC_KEY")
	cfg.LSSec.AppSecret = os.Getenv("LSSEC_SECRET")
	cfg.Database.URL = os.Getenv("DATABASE_URL")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.API.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.API.APIKey = os.Getenv("API_KEY")
	cfg.API.APIKeyHash = os.Getenv("API_KEY_HASH")

	cfg.App.Port = getEnv("PORT", cfg.App.Port)
	cfg.App.Language = getEnv("APP_LANGUAGE", cfg.App.Language)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogPretty = getEnvBool("LOG_PRETTY", cfg.App.LogPretty)
	cfg.App.DryRun = getEnvBool("DRY_RUN", cfg.App.DryRun)
	cfg.App.DryRunLatencyMs = getEnvInt("DRY_RUN_LATENCY_MS", cfg.App.DryRunLatencyMs)
	cfg.App.MockFeed = getEnvBool("MOCK_FEED", cfg.App.MockFeed)

	cfg.LSSec.BaseURL = getEnv("LSSEC_BASE_URL", cfg.LSSec.BaseURL)
	cfg.LSSec.TickURL = getEnv("LSSEC_TICK_URL", cfg.LSSec.TickURL)
	cfg.LSSec.OrderURL = getEnv("LSSEC_ORDER_URL", cfg.LSSec.OrderURL)

	cfg.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", cfg.Database.Driver))
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)

	cfg.Trading.StrategiesFile = getEnv("STRATEGIES_FILE", cfg.Trading.StrategiesFile)
	cfg.Trading.OutboxPath = getEnv("ORDER_OUTBOX_PATH", cfg.Trading.OutboxPath)
	cfg.Risk.MaxDailyOrders = getEnvInt("RISK_MAX_DAILY_ORDERS", cfg.Risk.MaxDailyOrders)
	cfg.Reconcile.IntervalSec = getEnvInt("RECONCILE_INTERVAL_SEC", cfg.Reconcile.IntervalSec)
	cfg.API.Enabled = getEnvBool("API_ENABLED", cfg.API.Enabled)
}

func applyDefaults(cfg *Config) {
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Language == "" {
		cfg.App.Language = "en"
	}
	if cfg.App.DryRunLatencyMs <= 0 {
		cfg.App.DryRunLatencyMs = 200
	}
	if cfg.App.MockTickMs <= 0 {
		cfg.App.MockTickMs = 1000
	}
	if cfg.LSSec.BaseURL == "" {
		cfg.LSSec.BaseURL = "https://openapi.ls-sec.co.kr:8080"
	}
	if cfg.LSSec.TickURL == "" {
		cfg.LSSec.TickURL = "wss://openapi.ls-sec.co.kr:9443/websocket"
	}
	if cfg.LSSec.OrderURL == "" {
		cfg.LSSec.OrderURL = "wss://openapi.ls-sec.co.kr:29443/websocket"
	}
	if cfg.LSSec.HTTPTimeoutSec <= 0 {
		cfg.LSSec.HTTPTimeoutSec = 10
	}
	if cfg.LSSec.RatePerSecond <= 0 {
		cfg.LSSec.RatePerSecond = 1
	}
	if cfg.LSSec.RateLimits == nil {
		cfg.LSSec.RateLimits = map[string]float64{
			"t8436":      2,
			"CSPAT00601": 10,
			"CSPAT00801": 10,
		}
	}
	if cfg.Stream.ReconnectMinMs <= 0 {
		cfg.Stream.ReconnectMinMs = 500
	}
	if cfg.Stream.ReconnectMaxMs <= 0 {
		cfg.Stream.ReconnectMaxMs = 30_000
	}
	if cfg.Stream.PingIntervalSec <= 0 {
		cfg.Stream.PingIntervalSec = 30
	}
	if cfg.Stream.EventBuffer <= 0 {
		cfg.Stream.EventBuffer = 256
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
		if cfg.Database.URL != "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/trading.db"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 8
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "equity"
	}
	if cfg.Trading.TickBacklog <= 0 {
		cfg.Trading.TickBacklog = 1024
	}
	if cfg.Trading.OrderQueueSize <= 0 {
		cfg.Trading.OrderQueueSize = 100
	}
	if cfg.Trading.StrategiesFile == "" {
		cfg.Trading.StrategiesFile = "strategies.yaml"
	}
	if cfg.Trading.OutboxPath == "" {
		cfg.Trading.OutboxPath = "./data/outbox"
	}
	if cfg.Trading.ChartHistory <= 0 {
		cfg.Trading.ChartHistory = 120
	}
	if cfg.Trading.ChartRefresh <= 0 {
		cfg.Trading.ChartRefresh = 360
	}
	if cfg.Risk.BalanceSyncSec <= 0 {
		cfg.Risk.BalanceSyncSec = 60
	}
	if cfg.Reconcile.IntervalSec <= 0 {
		cfg.Reconcile.IntervalSec = 300
	}
	if cfg.Reconcile.StaleAfterSec <= 0 {
		cfg.Reconcile.StaleAfterSec = 600
	}
	if cfg.API.TokenTTLMin <= 0 {
		cfg.API.TokenTTLMin = 60
	}
}

func validate(cfg *Config) error {
	if cfg.LSSec.AppKey == "" || cfg.LSSec.AppSecret == "" {
		return errors.New("LSSEC_KEY and LSSEC_SECRET are required")
	}
	if cfg.App.MockFeed && !cfg.App.DryRun {
		return errors.New("MOCK_FEED requires DRY_RUN")
	}
	switch cfg.Database.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if cfg.API.Enabled && (cfg.API.JWTSecret == "" || (cfg.API.APIKey == "" && cfg.API.APIKeyHash == "")) {
		return errors.New("JWT_SECRET and API_KEY (or API_KEY_HASH) are required when the operator API is enabled")
	}
	return nil
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.LSSec.HTTPTimeoutSec) * time.Second
}

func (c *Config) ReconnectMin() time.Duration {
	return time.Duration(c.Stream.ReconnectMinMs) * time.Millisecond
}

func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Stream.ReconnectMaxMs) * time.Millisecond
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Stream.PingIntervalSec) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalSec) * time.Second
}

func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Reconcile.StaleAfterSec) * time.Second
}

func (c *Config) DryRunLatency() time.Duration {
	return time.Duration(c.App.DryRunLatencyMs) * time.Millisecond
}

func (c *Config) ChartRefreshInterval() time.Duration {
	return time.Duration(c.Trading.ChartRefresh) * time.Minute
}

func (c *Config) BalanceSyncInterval() time.Duration {
	return time.Duration(c.Risk.BalanceSyncSec) * time.Second
}

func (c *Config) MockTickInterval() time.Duration {
	return time.Duration(c.App.MockTickMs) * time.Millisecond
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.API.TokenTTLMin) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
