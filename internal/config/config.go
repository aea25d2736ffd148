// Package config provides configuration management for the document store.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the document store.
type Config struct {
	// Backend selects which database backs the store: "mongo" or
	// "postgres". Empty selects the default. The value is threaded into
	// the adapter selector at construction time; nothing reads it ad hoc.
	Backend string `mapstructure:"backend"`

	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Mongo contains MongoDB connection settings.
	Mongo MongoConfig `mapstructure:"mongo"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Resources describes the entity types the server exposes.
	Resources []ResourceConfig `mapstructure:"resources"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading the request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is loaded exclusively from the environment.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode is the SSL connection mode.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum pool size.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum pool size.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum connection lifetime.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum connection idle time.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout is the connection timeout.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to the migrations directory.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun runs pending migrations at server startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	// URI is the MongoDB connection string.
	URI string `mapstructure:"uri"`
	// Database is the database name.
	Database string `mapstructure:"database"`
	// ConnectTimeout is the connection and ping timeout.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MaxPoolSize is the maximum connection pool size.
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level.
	Level string `mapstructure:"level"`
	// Format is the output format (json, console).
	Format string `mapstructure:"format"`
	// Output is the output destination (stdout, stderr).
	Output string `mapstructure:"output"`
}

// ResourceConfig describes one entity type the server exposes.
type ResourceConfig struct {
	// Name is the table or collection name.
	Name string `mapstructure:"name"`
	// UniqueField names the case-insensitively unique field, if any.
	UniqueField string `mapstructure:"unique_field"`
	// GlobalUnique widens uniqueness from per-owner to all records.
	GlobalUnique bool `mapstructure:"global_unique"`
	// AllowedColumns whitelists filterable document fields.
	AllowedColumns []string `mapstructure:"allowed_columns"`
	// MaxLimit caps the page size for this resource.
	MaxLimit int `mapstructure:"max_limit"`
	// Validation maps field names to validator tag rules applied to write
	// payloads, e.g. {"title": "required,max=200"}.
	Validation map[string]string `mapstructure:"validation"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DOCSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/docstore")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The database password comes exclusively from the environment; the
	// field uses mapstructure:"-" so config files cannot set it.
	cfg.Database.Password = os.Getenv("DOCSTORE_DATABASE_PASSWORD")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "docstore")
	v.SetDefault("database.name", "docstore")
	// Default to "require" for production. Use
	// DOCSTORE_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "docstore")
	v.SetDefault("mongo.connect_timeout", "10s")
	v.SetDefault("mongo.max_pool_size", 100)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks the configuration for inconsistencies. The backend value
// itself is validated by the adapter selector, which fails on unrecognized
// values rather than falling back.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}

	switch c.Database.SSLMode {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
	default:
		return fmt.Errorf("unknown database.ssl_mode: %q", c.Database.SSLMode)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns (%d) below database.min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}

	seen := make(map[string]bool, len(c.Resources))
	for _, res := range c.Resources {
		if res.Name == "" {
			return fmt.Errorf("resource with empty name")
		}
		if seen[res.Name] {
			return fmt.Errorf("duplicate resource name: %q", res.Name)
		}
		seen[res.Name] = true
	}
	return nil
}
