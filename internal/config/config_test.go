package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mirrors testing.T.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad(t *testing.T) {
	t.Run("defaults apply without a config file", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := Load()
		require.NoError(t, err)

		assert.Empty(t, cfg.Backend)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
		assert.Equal(t, SSLModeRequire, cfg.Database.SSLMode)
		assert.Equal(t, int32(25), cfg.Database.MaxConns)
		assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("DOCSTORE_BACKEND", "postgres")
		t.Setenv("DOCSTORE_SERVER_HTTP_PORT", "9090")
		t.Setenv("DOCSTORE_DATABASE_SSL_MODE", "disable")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.Backend)
		assert.Equal(t, 9090, cfg.Server.HTTPPort)
		assert.Equal(t, SSLModeDisable, cfg.Database.SSLMode)
	})

	t.Run("database password comes only from the environment", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("DOCSTORE_DATABASE_PASSWORD", "s3cret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.Database.Password)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:           "db.internal",
		Port:           5432,
		User:           "docstore",
		Password:       "p@ss:word",
		Name:           "docstore",
		SSLMode:        "require",
		ConnectTimeout: 10 * time.Second,
	}

	dsn := cfg.DSN()
	assert.Contains(t, dsn, "postgres://docstore:")
	assert.Contains(t, dsn, "@db.internal:5432/docstore")
	assert.Contains(t, dsn, "sslmode=require")
	assert.Contains(t, dsn, "connect_timeout=10")
	// Special characters in credentials survive URL encoding.
	assert.Contains(t, dsn, "p%40ss%3Aword")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{HTTPPort: 8080},
			Database: DatabaseConfig{SSLMode: SSLModeRequire, MaxConns: 10, MinConns: 2},
			Resources: []ResourceConfig{
				{Name: "notes", UniqueField: "title"},
			},
		}
	}

	t.Run("accepts a sane config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("rejects out-of-range port", func(t *testing.T) {
		cfg := valid()
		cfg.Server.HTTPPort = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown ssl mode", func(t *testing.T) {
		cfg := valid()
		cfg.Database.SSLMode = "maybe"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects inverted pool bounds", func(t *testing.T) {
		cfg := valid()
		cfg.Database.MaxConns = 1
		cfg.Database.MinConns = 5
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects duplicate resource names", func(t *testing.T) {
		cfg := valid()
		cfg.Resources = append(cfg.Resources, ResourceConfig{Name: "notes"})
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects nameless resources", func(t *testing.T) {
		cfg := valid()
		cfg.Resources = append(cfg.Resources, ResourceConfig{})
		assert.Error(t, cfg.Validate())
	})
}
