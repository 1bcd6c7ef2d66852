package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"deal-radar/internal/logging"
	"deal-radar/internal/platform"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Filtering   FilteringConfig   `mapstructure:"filtering"`
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Publishing  PublishingConfig  `mapstructure:"publishing"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	API         APIConfig         `mapstructure:"api"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PlatformSchedule governs one platform's monitoring cadence.
type PlatformSchedule struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// SchedulerConfig holds per-platform cycle cadence.
type SchedulerConfig struct {
	StartupDelay time.Duration               `mapstructure:"startup_delay"`
	Platforms    map[string]PlatformSchedule `mapstructure:"platforms"`
}

// Schedule returns the schedule for a platform, falling back to disabled.
func (c SchedulerConfig) Schedule(code platform.Code) PlatformSchedule {
	return c.Platforms[strings.ToLower(string(code))]
}

// SourceEndpoint locates one platform's catalog API.
type SourceEndpoint struct {
	BaseURL     string   `mapstructure:"base_url"`
	ObservePath string   `mapstructure:"observe_path"`
	SearchPath  string   `mapstructure:"search_path"`
	Queries     []string `mapstructure:"queries"`
}

// SourcesConfig covers the Collector/Monitor HTTP clients.
type SourcesConfig struct {
	RequestTimeout time.Duration             `mapstructure:"request_timeout"`
	UserAgent      string                    `mapstructure:"user_agent"`
	BatchSize      int                       `mapstructure:"batch_size"`
	BatchDelay     time.Duration             `mapstructure:"batch_delay"`
	ErrorStormCap  int                       `mapstructure:"error_storm_cap"`
	Platforms      map[string]SourceEndpoint `mapstructure:"platforms"`
}

// Endpoint returns the endpoint config for a platform.
func (c SourcesConfig) Endpoint(code platform.Code) SourceEndpoint {
	return c.Platforms[strings.ToLower(string(code))]
}

// FilteringConfig holds static observation thresholds. Dynamic settings from
// the database take precedence when present.
type FilteringConfig struct {
	MinPrice            float64 `mapstructure:"min_price"`
	MaxPrice            float64 `mapstructure:"max_price"`
	MinStock            int     `mapstructure:"min_stock"`
	MinDiscountPercent  float64 `mapstructure:"min_discount_percent"`
	MinPriceDropPercent float64 `mapstructure:"min_price_drop_percent"`
	MinDiscountIncrease float64 `mapstructure:"min_discount_increase"`
}

// TrackingConfig tunes the stability state machine.
type TrackingConfig struct {
	StabilityThreshold int `mapstructure:"stability_threshold"`
}

// TelegramConfig describes the Telegram publishing channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PublishingConfig defines the output channel and its rate budget. The hourly
// cap and pacing delay are properties of the destination and therefore shared
// across all platforms.
type PublishingConfig struct {
	MaxPerHour     int            `mapstructure:"max_per_hour"`
	MinDelay       time.Duration  `mapstructure:"min_delay"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// MaintenanceConfig governs population upkeep.
type MaintenanceConfig struct {
	TargetCount        int           `mapstructure:"target_count"`
	HardDeathThreshold int           `mapstructure:"hard_death_threshold"`
	SoftDeathThreshold int           `mapstructure:"soft_death_threshold"`
	RotationPeriod     time.Duration `mapstructure:"rotation_period"`
	RotationFraction   float64       `mapstructure:"rotation_fraction"`
	RefillAttempts     int           `mapstructure:"refill_attempts"`
}

// APIConfig enables the status HTTP endpoint.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DEALRADAR")
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
	v.SetDefault("app.name", "dealradar")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.startup_delay", "0s")
	for _, code := range platform.All() {
		key := "scheduler.platforms." + strings.ToLower(string(code))
		v.SetDefault(key+".enabled", true)
		v.SetDefault(key+".interval", "30m")
	}

	v.SetDefault("sources.request_timeout", "15s")
	v.SetDefault("sources.user_agent", "dealradar/1.0")
	v.SetDefault("sources.batch_size", 50)
	v.SetDefault("sources.batch_delay", "300ms")
	v.SetDefault("sources.error_storm_cap", 3)

	v.SetDefault("filtering.min_price", 0.0)
	v.SetDefault("filtering.max_price", 0.0)
	v.SetDefault("filtering.min_stock", 0)
	v.SetDefault("filtering.min_discount_percent", 0.0)
	v.SetDefault("filtering.min_price_drop_percent", 1.0)
	v.SetDefault("filtering.min_discount_increase", 5.0)

	v.SetDefault("tracking.stability_threshold", 2)

	v.SetDefault("publishing.max_per_hour", 10)
	v.SetDefault("publishing.min_delay", "3s")
	v.SetDefault("publishing.request_timeout", "30s")
	v.SetDefault("publishing.telegram.enabled", false)
	v.SetDefault("publishing.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("maintenance.target_count", 3000)
	v.SetDefault("maintenance.hard_death_threshold", 3)
	v.SetDefault("maintenance.soft_death_threshold", 3)
	v.SetDefault("maintenance.rotation_period", "168h")
	v.SetDefault("maintenance.rotation_fraction", 0.2)
	v.SetDefault("maintenance.refill_attempts", 3)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", ":8080")
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
	for code, sched := range c.Scheduler.Platforms {
		if sched.Enabled && sched.Interval <= 0 {
			return fmt.Errorf("scheduler.platforms.%s.interval must be greater than zero", code)
		}
	}
	if c.Sources.BatchSize <= 0 {
		return fmt.Errorf("sources.batch_size must be greater than zero")
	}
	if c.Tracking.StabilityThreshold <= 0 {
		return fmt.Errorf("tracking.stability_threshold must be greater than zero")
	}
	if c.Maintenance.TargetCount <= 0 {
		return fmt.Errorf("maintenance.target_count must be greater than zero")
	}
	if c.Maintenance.RotationFraction <= 0 || c.Maintenance.RotationFraction > 1 {
		return fmt.Errorf("maintenance.rotation_fraction must be in (0, 1]")
	}
	if c.Publishing.MaxPerHour < 0 {
		return fmt.Errorf("publishing.max_per_hour cannot be negative")
	}
	if c.Publishing.Telegram.Enabled {
		if c.Publishing.Telegram.BotToken == "" {
			return fmt.Errorf("publishing.telegram.bot_token is required")
		}
		if c.Publishing.Telegram.ChatID == "" {
			return fmt.Errorf("publishing.telegram.chat_id is required")
		}
	}
	return nil
}
