package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/darren-sm/crypto-data-pipeline/internal/logging"
)

// Supported storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
	BackendMySQL    = "mysql"
)

const maxPrecision = 18

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Source    SourceConfig    `mapstructure:"source"`
	Normalize NormalizeConfig `mapstructure:"normalize"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SourceConfig describes the CoinGecko markets endpoint and the retry budget.
type SourceConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	VsCurrency         string        `mapstructure:"vs_currency"`
	Order              string        `mapstructure:"order"`
	PerPage            int           `mapstructure:"per_page"`
	Page               int           `mapstructure:"page"`
	UserAgent          string        `mapstructure:"user_agent"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
}

// NormalizeConfig overrides per-field rounding precision.
type NormalizeConfig struct {
	Precision map[string]int32 `mapstructure:"precision"`
}

// StorageConfig selects and configures the destination store.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
}

// SQLiteConfig points at the embedded database file.
type SQLiteConfig struct {
	Path  string `mapstructure:"path"`
	Table string `mapstructure:"table"`
}

// PostgresConfig encapsulates PostgreSQL connectivity.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	CredentialsKey  string        `mapstructure:"credentials_key"`
	Table           string        `mapstructure:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// BigQueryConfig addresses the warehouse table.
type BigQueryConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Dataset         string `mapstructure:"dataset"`
	Table           string `mapstructure:"table"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// MySQLConfig encapsulates MySQL connectivity.
type MySQLConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// SchedulerConfig governs the daemon cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
}

// ServerConfig configures the HTTP trigger.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRYPTOETL")
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
	v.SetDefault("app.name", "crypto-pipeline")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "debug")
	v.SetDefault("logging.format", "json")

	v.SetDefault("source.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("source.vs_currency", "usd")
	v.SetDefault("source.order", "market_cap_desc")
	v.SetDefault("source.per_page", 100)
	v.SetDefault("source.page", 1)
	v.SetDefault("source.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.5005.61 Safari/537.36")
	v.SetDefault("source.request_timeout", "15s")
	v.SetDefault("source.max_attempts", 3)
	v.SetDefault("source.retry_backoff", "0s")
	v.SetDefault("source.min_request_interval", "0s")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite.path", "local.db")
	v.SetDefault("storage.sqlite.table", "crypto")
	v.SetDefault("storage.postgres.credentials_key", "postgresql")
	v.SetDefault("storage.postgres.table", "crypto")
	v.SetDefault("storage.postgres.max_open_conns", 2)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.advisory_lock_key", int64(0x63727970))
	v.SetDefault("storage.bigquery.dataset", "crypto")
	v.SetDefault("storage.bigquery.table", "crypto")
	v.SetDefault("storage.mysql.table", "crypto")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", "10s")
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
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be configured")
	}
	if c.Source.MaxAttempts < 1 {
		return fmt.Errorf("source.max_attempts must be at least 1")
	}
	if c.Source.RequestTimeout <= 0 {
		return fmt.Errorf("source.request_timeout must be greater than zero")
	}
	if c.Source.RetryBackoff < 0 {
		return fmt.Errorf("source.retry_backoff cannot be negative")
	}
	if c.Source.MinRequestInterval < 0 {
		return fmt.Errorf("source.min_request_interval cannot be negative")
	}
	if c.Source.PerPage <= 0 || c.Source.Page <= 0 {
		return fmt.Errorf("source.per_page and source.page must be greater than zero")
	}
	for field, places := range c.Normalize.Precision {
		if places < 0 || places > maxPrecision {
			return fmt.Errorf("normalize.precision.%s must be between 0 and %d", field, maxPrecision)
		}
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	return c.Storage.validate()
}

func (s StorageConfig) validate() error {
	var tables []string
	switch s.Backend {
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be configured")
		}
		tables = append(tables, s.SQLite.Table)
	case BackendPostgres:
		if s.Postgres.DSN == "" && s.Postgres.CredentialsFile == "" {
			return fmt.Errorf("storage.postgres.dsn or storage.postgres.credentials_file must be configured")
		}
		tables = append(tables, s.Postgres.Table)
	case BackendBigQuery:
		if s.BigQuery.ProjectID == "" {
			return fmt.Errorf("storage.bigquery.project_id must be configured")
		}
		tables = append(tables, s.BigQuery.Dataset, s.BigQuery.Table)
	case BackendMySQL:
		if s.MySQL.DSN == "" {
			return fmt.Errorf("storage.mysql.dsn must be configured")
		}
		tables = append(tables, s.MySQL.Table)
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	for _, name := range tables {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("invalid table identifier %q", name)
		}
	}
	return nil
}
