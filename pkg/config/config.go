// Package config loads tracking configuration from YAML, a .env file and
// TRACKING_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/security"
	"github.com/jdziat/simple-process-tracking/pkg/storage"
)

// Config is the full service configuration.
type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Notify      NotifyConfig   `yaml:"notify"`
	Log         LogConfig      `yaml:"log"`
	CatalogFile string         `yaml:"catalog_file"`
}

// DatabaseConfig selects the store and its pool.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// LedgerConfig tunes the execution ledger.
type LedgerConfig struct {
	MaxRework    int    `yaml:"max_rework"`
	SerialPrefix string `yaml:"serial_prefix"`
	// Serializable runs ledger transactions at SERIALIZABLE on PostgreSQL.
	Serializable        bool          `yaml:"serializable"`
	RetryAttempts       int           `yaml:"retry_attempts"`
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
}

// NotifyConfig configures the downstream notification sink. An empty
// RedisAddr disables notifications.
type NotifyConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Channel       string        `yaml:"channel"`
	Timeout       time.Duration `yaml:"timeout"`
}

// LogConfig selects the log format.
type LogConfig struct {
	Mode string `yaml:"mode"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	pool := storage.DefaultPoolConfig()
	return Config{
		Database: DatabaseConfig{
			Driver:          storage.DriverSQLite,
			DSN:             "tracking.db?_busy_timeout=5000&_txlock=immediate&_foreign_keys=on",
			MaxOpenConns:    pool.MaxOpenConns,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
		},
		Ledger: LedgerConfig{
			MaxRework:           3,
			RetryAttempts:       5,
			RetryInitialBackoff: 50 * time.Millisecond,
			RetryMaxBackoff:     2 * time.Second,
		},
		Notify: NotifyConfig{
			Channel: "tracking.events",
			Timeout: 3 * time.Second,
		},
		Log: LogConfig{Mode: "dev"},
	}
}

// Load reads path (skipped when empty), then .env, then environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("TRACKING_DB_DRIVER", &c.Database.Driver)
	str("TRACKING_DB_DSN", &c.Database.DSN)
	str("TRACKING_SERIAL_PREFIX", &c.Ledger.SerialPrefix)
	str("TRACKING_REDIS_ADDR", &c.Notify.RedisAddr)
	str("TRACKING_REDIS_PASSWORD", &c.Notify.RedisPassword)
	str("TRACKING_REDIS_CHANNEL", &c.Notify.Channel)
	str("TRACKING_LOG_MODE", &c.Log.Mode)
	str("TRACKING_CATALOG_FILE", &c.CatalogFile)

	return errors.Join(
		integer("TRACKING_DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns),
		integer("TRACKING_MAX_REWORK", &c.Ledger.MaxRework),
		integer("TRACKING_RETRY_ATTEMPTS", &c.Ledger.RetryAttempts),
		integer("TRACKING_REDIS_DB", &c.Notify.RedisDB),
		boolean("TRACKING_SERIALIZABLE", &c.Ledger.Serializable),
		duration("TRACKING_NOTIFY_TIMEOUT", &c.Notify.Timeout),
	)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Database.Driver) {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Ledger.MaxRework < 0 || c.Ledger.MaxRework > security.MaxReworkLimit {
		errs = append(errs, fmt.Errorf("ledger.max_rework must be within 0..%d", security.MaxReworkLimit))
	}
	if err := security.ValidateSerialPrefix(c.Ledger.SerialPrefix); err != nil {
		errs = append(errs, err)
	}
	if c.Ledger.RetryAttempts < 1 {
		errs = append(errs, errors.New("ledger.retry_attempts must be >= 1"))
	}
	if c.Ledger.RetryInitialBackoff < 0 || c.Ledger.RetryMaxBackoff < c.Ledger.RetryInitialBackoff {
		errs = append(errs, errors.New("ledger retry backoff must satisfy 0 <= initial <= max"))
	}
	if c.Notify.Timeout < 0 {
		errs = append(errs, errors.New("notify.timeout must be >= 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return core.NewError(core.KindValidation, "config.validate", "invalid configuration", errors.Join(errs...))
}

// PoolOptions returns the store pool settings.
func (c Config) PoolOptions() []storage.PoolOption {
	return []storage.PoolOption{
		storage.MaxOpenConns(c.Database.MaxOpenConns),
		storage.MaxIdleConns(c.Database.MaxIdleConns),
		storage.ConnMaxLifetime(c.Database.ConnMaxLifetime),
		storage.ConnMaxIdleTime(c.Database.ConnMaxIdleTime),
	}
}
