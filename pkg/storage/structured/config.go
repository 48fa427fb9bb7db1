// Package structured is the C1 relational half of the storage kernel: jobs,
// binary artifact metadata, usage ledgers, rate windows, upload sessions and
// API keys. A Postgres-backed Store is used in production; a SQLite-backed
// Store serves local development and unit tests without a live database.
package structured

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config configures the Postgres connection pool.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns the development baseline.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "binsight",
		Password:        "",
		Database:        "binsight",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// LoadFromEnv overrides c's fields from STRUCTURED_DB_* environment
// variables, leaving any field untouched whose variable is unset or
// unparseable.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("STRUCTURED_DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("STRUCTURED_DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("STRUCTURED_DB_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("STRUCTURED_DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("STRUCTURED_DB_NAME"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("STRUCTURED_DB_SSL_MODE"); v != "" {
		c.SSLMode = v
	}
}

// Validate checks that the config describes a connectable database.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535")
	}
	if c.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// DSN renders c as a libpq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}
