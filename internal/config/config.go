package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stock-outage-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Cache     CacheConfig     `mapstructure:"cache"`
	API       APIConfig       `mapstructure:"api"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs scrape cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// ScraperConfig points at the scraping backend and lists what to watch.
type ScraperConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	SiteURL        string        `mapstructure:"site_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	Targets        []string      `mapstructure:"targets"`
	ReplayFile     string        `mapstructure:"replay_file"`
}

// EngineConfig holds the alert detector thresholds.
type EngineConfig struct {
	Timezone                string   `mapstructure:"timezone"`
	WindowDays              int      `mapstructure:"window_days"`
	ConsecutiveMinDays      int      `mapstructure:"consecutive_min_days"`
	ConsecutiveCriticalDays int      `mapstructure:"consecutive_critical_days"`
	FrequentMinOutages      int      `mapstructure:"frequent_min_outages"`
	SentinelVariants        []string `mapstructure:"sentinel_variants"`
}

// AnalyticsConfig tunes forecasting and clustering.
type AnalyticsConfig struct {
	LookbackDays          int     `mapstructure:"lookback_days"`
	MinDays               int     `mapstructure:"min_days"`
	MinPincodes           int     `mapstructure:"min_pincodes"`
	MaxClusters           int     `mapstructure:"max_clusters"`
	Seed                  int64   `mapstructure:"seed"`
	ForecastDays          int     `mapstructure:"forecast_days"`
	ProductThreshold      float64 `mapstructure:"product_threshold"`
	DailySeasonality      bool    `mapstructure:"daily_seasonality"`
	WeeklySeasonality     bool    `mapstructure:"weekly_seasonality"`
	YearlySeasonality     bool    `mapstructure:"yearly_seasonality"`
	ChangepointPriorScale float64 `mapstructure:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `mapstructure:"seasonality_prior_scale"`
	IntervalWidth         float64 `mapstructure:"interval_width"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	Channels     []string       `mapstructure:"channels"`
	Timeout      time.Duration  `mapstructure:"timeout"`
	DashboardURL string         `mapstructure:"dashboard_url"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Email        EmailConfig    `mapstructure:"email"`
	Kafka        KafkaConfig    `mapstructure:"kafka"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig 描述邮件告警参数。
type EmailConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Provider     string   `mapstructure:"provider"`
	Fallback     []string `mapstructure:"fallback"`
	From         string   `mapstructure:"from"`
	To           []string `mapstructure:"to"`
	ResendAPIKey string   `mapstructure:"resend_api_key"`
	SESRegion    string   `mapstructure:"ses_region"`
}

// KafkaConfig describes the alert event topic.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// CacheConfig configures the Redis analytics cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// APIConfig configures the HTTP query surface.
type APIConfig struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Target is one keyword searched at one pincode.
type Target struct {
	Keyword string
	Pincode string
}

func (t Target) String() string {
	return t.Keyword + "@" + t.Pincode
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCH")
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
	v.SetDefault("app.name", "stockwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "stockwatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73746f63))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("scraper.base_url", "http://localhost:9000")
	v.SetDefault("scraper.site_url", "https://www.amul.com")
	v.SetDefault("scraper.request_timeout", "2m")
	v.SetDefault("scraper.user_agent", "stockwatch/1.0")
	v.SetDefault("scraper.targets", []string{})

	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.window_days", 7)
	v.SetDefault("engine.consecutive_min_days", 2)
	v.SetDefault("engine.consecutive_critical_days", 3)
	v.SetDefault("engine.frequent_min_outages", 3)
	v.SetDefault("engine.sentinel_variants", []string{"Error", "No data", "Scraper Error"})

	v.SetDefault("analytics.lookback_days", 30)
	v.SetDefault("analytics.min_days", 5)
	v.SetDefault("analytics.min_pincodes", 3)
	v.SetDefault("analytics.max_clusters", 4)
	v.SetDefault("analytics.seed", 42)
	v.SetDefault("analytics.forecast_days", 7)
	v.SetDefault("analytics.product_threshold", 0.7)
	v.SetDefault("analytics.daily_seasonality", true)
	v.SetDefault("analytics.weekly_seasonality", true)
	v.SetDefault("analytics.yearly_seasonality", false)
	v.SetDefault("analytics.changepoint_prior_scale", 0.05)
	v.SetDefault("analytics.seasonality_prior_scale", 10.0)
	v.SetDefault("analytics.interval_width", 0.8)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.dashboard_url", "")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.provider", "resend")
	v.SetDefault("alerting.email.fallback", []string{"ses"})
	v.SetDefault("alerting.email.ses_region", "us-east-1")
	v.SetDefault("alerting.kafka.enabled", false)
	v.SetDefault("alerting.kafka.topic", "stock-alerts")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "15m")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.request_timeout", "30s")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	if c.Engine.WindowDays <= 0 {
		return fmt.Errorf("engine.window_days must be greater than zero")
	}
	if c.Engine.ConsecutiveMinDays <= 0 || c.Engine.ConsecutiveCriticalDays < c.Engine.ConsecutiveMinDays {
		return fmt.Errorf("engine.consecutive_critical_days must be >= consecutive_min_days > 0")
	}
	if c.Engine.FrequentMinOutages <= 0 {
		return fmt.Errorf("engine.frequent_min_outages must be greater than zero")
	}
	if c.Analytics.LookbackDays <= 0 || c.Analytics.MinDays <= 0 {
		return fmt.Errorf("analytics.lookback_days and analytics.min_days must be greater than zero")
	}
	if c.Analytics.MaxClusters <= 0 || c.Analytics.MinPincodes <= 0 {
		return fmt.Errorf("analytics.max_clusters and analytics.min_pincodes must be greater than zero")
	}
	if c.Analytics.IntervalWidth <= 0 || c.Analytics.IntervalWidth >= 1 {
		return fmt.Errorf("analytics.interval_width must be in (0, 1)")
	}
	if _, err := c.Scraper.ParseTargets(); err != nil {
		return err
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.From == "" || len(c.Alerting.Email.To) == 0 {
			return fmt.Errorf("alerting.email.from 与 alerting.email.to 必须配置")
		}
	}
	if c.Alerting.Kafka.Enabled {
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.brokers 与 alerting.kafka.topic 必须配置")
		}
	}
	return nil
}

// Location resolves the timezone that defines calendar days for detectors.
func (e EngineConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(e.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("engine.timezone %q: %w", name, err)
	}
	return loc, nil
}

// ParseTargets decodes "keyword@pincode" entries.
func (s ScraperConfig) ParseTargets() ([]Target, error) {
	targets := make([]Target, 0, len(s.Targets))
	for _, raw := range s.Targets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		idx := strings.LastIndex(raw, "@")
		if idx <= 0 || idx == len(raw)-1 {
			return nil, fmt.Errorf("scraper.targets entry %q must look like keyword@pincode", raw)
		}
		targets = append(targets, Target{
			Keyword: strings.TrimSpace(raw[:idx]),
			Pincode: strings.TrimSpace(raw[idx+1:]),
		})
	}
	return targets, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
