// Package config provides configuration management for phasetrack.
//
// Values come from .phasetrack/config.yaml, overridden by PHASETRACK_*
// environment variables (PHASETRACK_SERVER_PORT sets server.port), overridden
// by command-line flags bound through viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/phasetrack/internal/db/driver"
	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "config.yaml"
	// Dir is the phasetrack configuration directory
	Dir = ".phasetrack"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PHASETRACK"
)

// Storage backends.
const (
	BackendDatabase = "database"
	BackendMemory   = "memory"
)

// Config is the complete phasetrack configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Events    EventsConfig    `yaml:"events" mapstructure:"events"`
}

// DatabaseConfig selects and configures the SQL driver.
type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// SQLiteConfig defines SQLite-specific settings.
type SQLiteConfig struct {
	// Path to the database file (relative to the working directory)
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig defines PostgreSQL-specific settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"` // Use env PHASETRACK_DATABASE_POSTGRES_PASSWORD
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// StorageConfig defines entity store settings.
type StorageConfig struct {
	// Backend is database (default) or memory
	Backend string `yaml:"backend" mapstructure:"backend"`
	// PageSize is the number of entities read per query during scans
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LogConfig defines logging output.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level" mapstructure:"level"`
	// Format is auto, text or json. auto picks text on a terminal.
	Format string `yaml:"format" mapstructure:"format"`
}

// AnalyticsConfig defines analytics defaults.
type AnalyticsConfig struct {
	// DefaultLimit caps entities scanned when no limit is given; 0 means all
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit"`
}

// EventsConfig defines event fan-out settings.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: filepath.Join(Dir, "phasetrack.db"),
			},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "phasetrack",
				User:     "phasetrack",
				SSLMode:  "disable",
			},
		},
		Storage: StorageConfig{
			Backend:  BackendDatabase,
			PageSize: 100,
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Analytics: AnalyticsConfig{
			DefaultLimit: 0,
		},
		Events: EventsConfig{
			BufferSize: 100,
		},
	}
}

// DefaultPath returns the config file location relative to the working
// directory.
func DefaultPath() string {
	return filepath.Join(Dir, ConfigFileName)
}

// Load reads configuration into v and decodes it. path selects a specific
// file; when empty, .phasetrack/config.yaml is used if present. A missing
// file yields defaults plus environment overrides.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(Dir)
		v.SetConfigName("config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, pterrors.ErrConfigInvalid("file", "values do not match the expected types").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults registers every default with v so AutomaticEnv can resolve
// nested keys that are absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.sqlite.path", d.Database.SQLite.Path)
	v.SetDefault("database.postgres.host", d.Database.Postgres.Host)
	v.SetDefault("database.postgres.port", d.Database.Postgres.Port)
	v.SetDefault("database.postgres.database", d.Database.Postgres.Database)
	v.SetDefault("database.postgres.user", d.Database.Postgres.User)
	v.SetDefault("database.postgres.password", d.Database.Postgres.Password)
	v.SetDefault("database.postgres.ssl_mode", d.Database.Postgres.SSLMode)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.page_size", d.Storage.PageSize)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("analytics.default_limit", d.Analytics.DefaultLimit)
	v.SetDefault("events.buffer_size", d.Events.BufferSize)
}

// SaveTo saves the config to a specific path.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Init writes a default config file under dir/.phasetrack. It refuses to
// overwrite an existing file unless force is set.
func Init(dir string, force bool) (string, error) {
	path := filepath.Join(dir, Dir, ConfigFileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("phasetrack already initialized at %s (use --force to overwrite)", path)
		}
	}
	if err := Default().SaveTo(path); err != nil {
		return "", err
	}
	return path, nil
}

// Validate checks every field and returns a CONFIG_INVALID error for the
// first bad one.
func (c *Config) Validate() error {
	dialect, err := driver.ParseDialect(c.Database.Driver)
	if err != nil {
		return pterrors.ErrConfigInvalid("database.driver", "must be sqlite or postgres")
	}
	if dialect == driver.DialectSQLite && c.Database.SQLite.Path == "" {
		return pterrors.ErrConfigInvalid("database.sqlite.path", "must not be empty")
	}
	if dialect == driver.DialectPostgres {
		if c.Database.Postgres.Host == "" {
			return pterrors.ErrConfigInvalid("database.postgres.host", "must not be empty")
		}
		if !validPort(c.Database.Postgres.Port) {
			return pterrors.ErrConfigInvalid("database.postgres.port", "must be between 1 and 65535")
		}
	}
	switch c.Storage.Backend {
	case BackendDatabase, BackendMemory:
	default:
		return pterrors.ErrConfigInvalid("storage.backend", "must be database or memory")
	}
	if c.Storage.PageSize <= 0 {
		return pterrors.ErrConfigInvalid("storage.page_size", "must be positive")
	}
	if !validPort(c.Server.Port) {
		return pterrors.ErrConfigInvalid("server.port", "must be between 1 and 65535")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return pterrors.ErrConfigInvalid("log.level", "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		return pterrors.ErrConfigInvalid("log.format", "must be auto, text or json")
	}
	if c.Analytics.DefaultLimit < 0 {
		return pterrors.ErrConfigInvalid("analytics.default_limit", "must not be negative")
	}
	if c.Events.BufferSize <= 0 {
		return pterrors.ErrConfigInvalid("events.buffer_size", "must be positive")
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// Dialect returns the configured database dialect.
func (c *Config) Dialect() driver.Dialect {
	d, err := driver.ParseDialect(c.Database.Driver)
	if err != nil {
		return driver.DialectSQLite
	}
	return d
}

// DSN returns the connection string for the configured driver: the file
// path for SQLite, a postgres:// URL for PostgreSQL.
func (c *Config) DSN() string {
	if c.Dialect() == driver.DialectSQLite {
		return c.Database.SQLite.Path
	}
	pg := c.Database.Postgres
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(pg.Host, strconv.Itoa(pg.Port)),
		Path:   "/" + pg.Database,
	}
	if pg.Password != "" {
		u.User = url.UserPassword(pg.User, pg.Password)
	} else if pg.User != "" {
		u.User = url.User(pg.User)
	}
	if pg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {pg.SSLMode}}.Encode()
	}
	return u.String()
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ParseLevel converts a level name into a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
