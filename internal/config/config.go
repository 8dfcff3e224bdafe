package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"indexheat/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Refresh    RefreshConfig    `mapstructure:"refresh"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	API        APIConfig        `mapstructure:"api"`
	Percentile PercentileConfig `mapstructure:"percentile"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CatalogConfig points at the index list spreadsheet.
type CatalogConfig struct {
	ExcelPath string `mapstructure:"excel_path"`
}

// ProviderConfig covers one upstream market-data API.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ProvidersConfig groups the history providers.
type ProvidersConfig struct {
	UserAgent string         `mapstructure:"user_agent"`
	Eastmoney ProviderConfig `mapstructure:"eastmoney"`
	Sina      ProviderConfig `mapstructure:"sina"`
	CSIndex   ProviderConfig `mapstructure:"csindex"`
}

// RefreshConfig governs the refresh pass.
type RefreshConfig struct {
	HistoryYears    int   `mapstructure:"history_years"`
	MaxRetries      int   `mapstructure:"max_retries"`
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// ScheduleConfig wires the recurring refresh trigger.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// APIConfig covers the HTTP status/query surface.
type APIConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PercentileConfig holds the temperature banding thresholds.
type PercentileConfig struct {
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXHEAT")
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
	v.SetDefault("app.name", "indexheat")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("catalog.excel_path", "data/index_list.xlsx")

	v.SetDefault("providers.user_agent", "indexheat/1.0")
	v.SetDefault("providers.eastmoney.base_url", "https://push2his.eastmoney.com")
	v.SetDefault("providers.eastmoney.request_timeout", "10s")
	v.SetDefault("providers.sina.base_url", "https://quotes.sina.cn")
	v.SetDefault("providers.sina.request_timeout", "10s")
	v.SetDefault("providers.csindex.base_url", "https://www.csindex.com.cn")
	v.SetDefault("providers.csindex.request_timeout", "15s")

	v.SetDefault("refresh.history_years", 5)
	v.SetDefault("refresh.max_retries", 3)
	v.SetDefault("refresh.advisory_lock_key", int64(0x69644854))

	// 周日 18:00 触发全量刷新，与历史行为保持一致。
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.cron", "0 18 * * 0")

	v.SetDefault("api.listen_addr", "127.0.0.1:8000")
	v.SetDefault("api.shutdown_timeout", "10s")

	v.SetDefault("percentile.low", 30.0)
	v.SetDefault("percentile.high", 70.0)
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
	if c.Refresh.HistoryYears <= 0 {
		return fmt.Errorf("refresh.history_years must be greater than zero")
	}
	if c.Refresh.MaxRetries <= 0 {
		return fmt.Errorf("refresh.max_retries must be greater than zero")
	}
	if c.Catalog.ExcelPath == "" {
		return fmt.Errorf("catalog.excel_path 必须配置")
	}
	if c.Percentile.Low < 0 || c.Percentile.High > 100 || c.Percentile.Low >= c.Percentile.High {
		return fmt.Errorf("percentile thresholds must satisfy 0 <= low < high <= 100")
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron must be set when schedule.enabled is true")
	}
	return nil
}
