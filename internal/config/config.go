package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"criptoguia-rates/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Binance   BinanceConfig   `mapstructure:"binance"`
	BCV       BCVConfig       `mapstructure:"bcv"`
	Cache     CacheConfig     `mapstructure:"cache"`
	History   HistoryConfig   `mapstructure:"history"`
	Trend     TrendConfig     `mapstructure:"trend"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig governs the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the observation archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// BinanceConfig parameterises the P2P order-book adapter.
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Asset          string        `mapstructure:"asset"`
	Fiat           string        `mapstructure:"fiat"`
	TradeType      string        `mapstructure:"trade_type"`
	Rows           int           `mapstructure:"rows"`
	PayTypes       []string      `mapstructure:"pay_types"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// BCVConfig parameterises the official-rate scrapers.
type BCVConfig struct {
	BaseURL string           `mapstructure:"base_url"`
	USD     BCVAdapterConfig `mapstructure:"usd"`
	EUR     BCVAdapterConfig `mapstructure:"eur"`
}

// BCVAdapterConfig holds per-currency scrape settings. InsecureTLS is a legacy
// trust exception for the BCV's certificate and never leaks into other clients.
type BCVAdapterConfig struct {
	Selector       string        `mapstructure:"selector"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	InsecureTLS    bool          `mapstructure:"insecure_tls"`
}

// CacheConfig sets per-source freshness windows.
type CacheConfig struct {
	P2PWindow      time.Duration `mapstructure:"p2p_window"`
	OfficialWindow time.Duration `mapstructure:"official_window"`
}

// HistoryConfig governs the day-bucketed rate ledger.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"`
	FilePath   string `mapstructure:"file_path"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
	StorageKey string `mapstructure:"storage_key"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// TrendConfig exposes the classification thresholds. The defaults were tuned by
// trial against the VES market; change them only with care.
type TrendConfig struct {
	SignificantDayPct float64 `mapstructure:"significant_day_pct"`
	PairwiseStepPct   float64 `mapstructure:"pairwise_step_pct"`
	OverridePct       float64 `mapstructure:"override_pct"`
	UrgentPct         float64 `mapstructure:"urgent_pct"`
	LookbackDays      int     `mapstructure:"lookback_days"`
}

// ChatConfig captures the Groq pass-through used by the assistant endpoint.
type ChatConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRIPTOGUIA")
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
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "criptoguia-rates")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("scheduler.interval", "2m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x56455352))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("binance.base_url", "https://p2p.binance.com")
	v.SetDefault("binance.asset", "USDT")
	v.SetDefault("binance.fiat", "VES")
	v.SetDefault("binance.trade_type", "BUY")
	v.SetDefault("binance.rows", 10)
	v.SetDefault("binance.pay_types", []string{
		"Banesco", "Mercantil", "Provincial", "BankTransfer", "Pago Movil", "Bancamiga",
	})
	v.SetDefault("binance.request_timeout", "10s")
	v.SetDefault("binance.user_agent", "criptoguia-rates/1.0")

	v.SetDefault("bcv.base_url", "https://www.bcv.org.ve/")
	v.SetDefault("bcv.usd.selector", "#dolar strong")
	v.SetDefault("bcv.usd.request_timeout", "15s")
	v.SetDefault("bcv.usd.insecure_tls", true)
	v.SetDefault("bcv.eur.selector", "#euro strong")
	v.SetDefault("bcv.eur.request_timeout", "10s")
	v.SetDefault("bcv.eur.insecure_tls", false)

	v.SetDefault("cache.p2p_window", "30s")
	v.SetDefault("cache.official_window", "600s")

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.file_path", "data/rate_history.json")
	v.SetDefault("history.redis_addr", "localhost:6379")
	v.SetDefault("history.redis_db", 0)
	v.SetDefault("history.storage_key", "criptoguia_rate_history")
	v.SetDefault("history.max_entries", 30)

	v.SetDefault("trend.significant_day_pct", 2.0)
	v.SetDefault("trend.pairwise_step_pct", 0.5)
	v.SetDefault("trend.override_pct", 0.05)
	v.SetDefault("trend.urgent_pct", 3.0)
	v.SetDefault("trend.lookback_days", 5)

	v.SetDefault("chat.enabled", false)
	v.SetDefault("chat.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("chat.model", "llama-3.3-70b-versatile")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 500)
	v.SetDefault("chat.request_timeout", "30s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 2.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Binance.Rows <= 0 {
		return fmt.Errorf("binance.rows must be greater than zero")
	}
	if c.Cache.P2PWindow <= 0 || c.Cache.OfficialWindow <= 0 {
		return fmt.Errorf("cache freshness windows must be greater than zero")
	}
	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be greater than zero")
	}
	switch c.History.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("history.backend must be file or redis")
	}
	if c.Trend.LookbackDays < 2 {
		return fmt.Errorf("trend.lookback_days must be at least 2")
	}
	if c.Trend.SignificantDayPct <= 0 || c.Trend.PairwiseStepPct <= 0 {
		return fmt.Errorf("trend thresholds must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Chat.Enabled && c.Chat.APIKey == "" {
		return fmt.Errorf("chat.api_key is required when chat.enabled")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
