package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported store drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	GitHubToken     string
	DBDriver        string
	DBDSN           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SkipMigrations  bool
	LogLevel        string
	Days            int
	ListenAddr      string
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

// SetDefaults registers the default for every key Load reads.
func SetDefaults() {
	viper.SetDefault("DB_DRIVER", DriverSQLite)
	viper.SetDefault("DB_DSN", "lotteryfactor.db")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 25)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
	viper.SetDefault("DB_SKIP_MIGRATIONS", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DAYS", 30)
	viper.SetDefault("LISTEN_ADDR", ":8080")
}

// Load loads configuration from the environment, an optional .env file and
// whatever flags were bound to viper beforehand.
func (c *Config) Load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read .env file: %w", err)
	}

	SetDefaults()
	viper.AutomaticEnv()

	c.GitHubToken = viper.GetString("GITHUB_TOKEN")
	c.DBDriver = viper.GetString("DB_DRIVER")
	c.DBDSN = viper.GetString("DB_DSN")
	c.MaxOpenConns = viper.GetInt("DB_MAX_OPEN_CONNS")
	c.MaxIdleConns = viper.GetInt("DB_MAX_IDLE_CONNS")
	c.SkipMigrations = viper.GetBool("DB_SKIP_MIGRATIONS")
	c.LogLevel = viper.GetString("LOG_LEVEL")
	c.Days = viper.GetInt("DAYS")
	c.ListenAddr = viper.GetString("LISTEN_ADDR")

	lifetime, err := time.ParseDuration(viper.GetString("DB_CONN_MAX_LIFETIME"))
	if err != nil {
		return fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}
	c.ConnMaxLifetime = lifetime

	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q, expected %q or %q", c.DBDriver, DriverSQLite, DriverPostgres)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.Days <= 0 {
		return fmt.Errorf("DAYS must be positive, got %d", c.Days)
	}

	return nil
}

// RequireGitHubToken is checked only by commands that talk to GitHub.
func (c *Config) RequireGitHubToken() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	return nil
}
