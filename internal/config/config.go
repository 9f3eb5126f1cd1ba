package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"lst-yield/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Yield     YieldConfig     `mapstructure:"yield"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN               string        `mapstructure:"dsn"`
	MaxOpenConns      int           `mapstructure:"max_open_conns"`
	MinConns          int           `mapstructure:"min_conns"`
	ConnMaxLifetime   time.Duration `mapstructure:"conn_max_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	MigrationsPath    string        `mapstructure:"migrations_path"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs computation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// EthereumConfig covers on-chain data access.
type EthereumConfig struct {
	RPCURL            string        `mapstructure:"rpc_url"`
	TokenAddress      string        `mapstructure:"token_address"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	VerifyLinkage     bool          `mapstructure:"verify_linkage"`
}

// YieldConfig selects the sampling window and smoothing stride.
type YieldConfig struct {
	WindowDays int `mapstructure:"window_days"`
	Stride     int `mapstructure:"stride"`
}

// AlertingConfig defines the acceptable base yield band and routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	MinYield float64        `mapstructure:"min_yield"`
	MaxYield float64        `mapstructure:"max_yield"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LSTYIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

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

// bindLegacyEnv accepts the plain RPC_URL variable used by node tooling.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("ethereum.rpc_url", "LSTYIELD_ETHEREUM_RPC_URL", "RPC_URL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lstyield")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6c737479))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("ethereum.token_address", "0xBe9895146f7AF43049ca1c1AE358B0541Ea49704")
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.requests_per_second", 25.0)
	v.SetDefault("ethereum.max_concurrency", 8)
	v.SetDefault("ethereum.max_retries", 3)
	v.SetDefault("ethereum.retry_backoff", "500ms")
	v.SetDefault("ethereum.verify_linkage", true)

	v.SetDefault("yield.window_days", 3)
	v.SetDefault("yield.stride", 1)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_yield", 0.0)
	v.SetDefault("alerting.max_yield", 0.10)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)
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
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Yield.WindowDays < 1 {
		return fmt.Errorf("yield.window_days must be at least 1")
	}
	if c.Yield.Stride < 1 {
		return fmt.Errorf("yield.stride must be at least 1")
	}
	if c.Yield.Stride > c.Yield.WindowDays {
		return fmt.Errorf("yield.stride (%d) exceeds yield.window_days (%d); no interval would remain",
			c.Yield.Stride, c.Yield.WindowDays)
	}
	if c.Ethereum.TokenAddress != "" && !common.IsHexAddress(c.Ethereum.TokenAddress) {
		return fmt.Errorf("ethereum.token_address %q is not a hex address", c.Ethereum.TokenAddress)
	}
	if c.Ethereum.MaxConcurrency < 0 {
		return fmt.Errorf("ethereum.max_concurrency cannot be negative")
	}
	if c.Ethereum.MaxRetries < 0 {
		return fmt.Errorf("ethereum.max_retries cannot be negative")
	}
	if c.Alerting.MinYield > c.Alerting.MaxYield {
		return fmt.Errorf("alerting.min_yield cannot exceed alerting.max_yield")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
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

// ResolveStride returns either the CLI override or config default.
func (c *Config) ResolveStride(override int) int {
	if override > 0 {
		return override
	}
	return c.Yield.Stride
}
