package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"dollarnow/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Web       WebConfig       `mapstructure:"web"`
	Chart     ChartConfig     `mapstructure:"chart"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// QuoteConfig lists the ranked USD/BRL endpoints.
type QuoteConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SchedulerConfig governs polling cadence for both contexts.
type SchedulerConfig struct {
	VisibleInterval time.Duration `mapstructure:"visible_interval"`
	HiddenInterval  time.Duration `mapstructure:"hidden_interval"`
	WorkerInterval  time.Duration `mapstructure:"worker_interval"`
	FallbackDelay   time.Duration `mapstructure:"fallback_delay"`
	RecoveryDelay   time.Duration `mapstructure:"recovery_delay"`
}

// AlertingConfig defines notification behaviour.
type AlertingConfig struct {
	TestExpiry    time.Duration  `mapstructure:"test_expiry"`
	RuleExpiry    time.Duration  `mapstructure:"rule_expiry"`
	Icon          string         `mapstructure:"icon"`
	WorkerSurface string         `mapstructure:"worker_surface"`
	PreviewSpread float64        `mapstructure:"preview_spread"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notification surface.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// StorageConfig selects the worker's durable store and the page preferences file.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PrefsPath       string        `mapstructure:"prefs_path"`
}

// WebConfig configures the HTTP surface.
type WebConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// ChartConfig tunes chart rendering defaults.
type ChartConfig struct {
	Width      int `mapstructure:"width"`
	Height     int `mapstructure:"height"`
	Breakpoint int `mapstructure:"breakpoint"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DOLLARNOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dollarnow")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("quote.endpoints", []string{
		"https://economia.awesomeapi.com.br/json/last/USD-BRL",
		"https://api.exchangerate-api.com/v4/latest/USD",
	})
	v.SetDefault("quote.request_timeout", "10s")
	v.SetDefault("quote.user_agent", "dollarnow/1.0")

	v.SetDefault("scheduler.visible_interval", "30s")
	v.SetDefault("scheduler.hidden_interval", "60s")
	v.SetDefault("scheduler.worker_interval", "60s")
	v.SetDefault("scheduler.fallback_delay", "1s")
	v.SetDefault("scheduler.recovery_delay", "5s")

	v.SetDefault("alerting.test_expiry", "5s")
	v.SetDefault("alerting.rule_expiry", "10s")
	v.SetDefault("alerting.icon", "/icons/icon-192.png")
	v.SetDefault("alerting.worker_surface", "log")
	v.SetDefault("alerting.preview_spread", 0.02)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "dollarnow.db")
	v.SetDefault("storage.max_open_conns", 4)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")
	v.SetDefault("storage.prefs_path", "prefs.json")

	v.SetDefault("web.listen", ":3900")
	v.SetDefault("web.shutdown_timeout", "5s")

	v.SetDefault("chart.width", 800)
	v.SetDefault("chart.height", 300)
	v.SetDefault("chart.breakpoint", 600)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Quote.Endpoints) == 0 {
		return fmt.Errorf("quote.endpoints must list at least one endpoint")
	}
	if c.Scheduler.VisibleInterval <= 0 || c.Scheduler.HiddenInterval <= 0 || c.Scheduler.WorkerInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Scheduler.FallbackDelay < 0 || c.Scheduler.RecoveryDelay < 0 {
		return fmt.Errorf("scheduler retry delays cannot be negative")
	}
	if c.Alerting.TestExpiry <= 0 || c.Alerting.RuleExpiry <= 0 {
		return fmt.Errorf("alerting expiries must be greater than zero")
	}
	switch strings.ToLower(c.Alerting.WorkerSurface) {
	case "log":
	case "telegram":
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set for the telegram surface")
		}
		if c.Alerting.Telegram.ChatID == 0 {
			return fmt.Errorf("alerting.telegram.chat_id must be set for the telegram surface")
		}
	default:
		return fmt.Errorf("alerting.worker_surface %q is not supported", c.Alerting.WorkerSurface)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart dimensions must be greater than zero")
	}
	return nil
}
