package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Driver names accepted by the CLI.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds everything the CLI needs to run migrations against one
// target database.
type Config struct {
	// DatabaseURL is the full connection string. When empty and the
	// driver is postgres, one is assembled from the DB_* variables.
	DatabaseURL string `env:"LOCKSTEP_DATABASE_URL"`

	Driver        string `env:"LOCKSTEP_DRIVER" envDefault:"postgres"`
	MigrationsDir string `env:"LOCKSTEP_MIGRATIONS_DIR" envDefault:"migrations"`
	Table         string `env:"LOCKSTEP_TABLE" envDefault:"schema_migrations"`
	LogLevel      string `env:"LOCKSTEP_LOG_LEVEL" envDefault:"info"`
	Port          int    `env:"LOCKSTEP_PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD"` // no default
	DBName     string `env:"DB_NAME" envDefault:"postgres"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	return cfg, nil
}

// ConnString returns the connection string for the configured driver,
// assembling a postgres URL from the DB_* variables when none is set.
func (c Config) ConnString() (string, error) {
	if c.DatabaseURL != "" {
		return c.DatabaseURL, nil
	}

	if c.Driver == DriverSQLite {
		return "", fmt.Errorf("LOCKSTEP_DATABASE_URL is required for the sqlite driver")
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
	), nil
}
