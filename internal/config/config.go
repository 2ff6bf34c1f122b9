// Package config provides configuration management for ContentForge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Security  SecurityConfig  `toml:"security"`
	Logging   LoggingConfig   `toml:"logging"`
	Analytics AnalyticsConfig `toml:"analytics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	HTTPPort       int           `toml:"http_port"`
	BindAddress    string        `toml:"bind_address"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	MaxRequestSize int64         `toml:"max_request_size"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Driver     string        `toml:"driver"` // "postgres" or "memory"
	DSN        string        `toml:"dsn"`    // Full DSN (alternative to individual fields)
	Host       string        `toml:"host"`
	Port       int           `toml:"port"`
	User       string        `toml:"user"`
	Password   string        `toml:"password"`
	Database   string        `toml:"database"`
	SSLMode    string        `toml:"ssl_mode"`
	MaxConns   int           `toml:"max_conns"`
	MaxIdle    int           `toml:"max_idle"`
	ConnMaxAge time.Duration `toml:"conn_max_age"`
}

// GetDSN returns the DSN for the database
func (d *DatabaseConfig) GetDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// SecurityConfig contains security settings. MasterKey encrypts stored
// provider credentials and is normally injected through the environment,
// never committed in the config file.
type SecurityConfig struct {
	MasterKey string `toml:"master_key"`
}

// LoggingConfig contains structured logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
	Format string `toml:"format"` // "json" or "text"
}

// AnalyticsConfig contains usage log retention settings
type AnalyticsConfig struct {
	RetentionDays   int           `toml:"retention_days"`
	CleanupInterval time.Duration `toml:"cleanup_interval"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:       8080,
			BindAddress:    "0.0.0.0",
			ReadTimeout:    5 * time.Minute, // long streaming responses
			WriteTimeout:   10 * time.Minute,
			MaxRequestSize: 10 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Password:   "postgres",
			Database:   "contentforge",
			SSLMode:    "disable",
			MaxConns:   20,
			MaxIdle:    5,
			ConnMaxAge: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Analytics: AnalyticsConfig{
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
	}
}

// Load loads configuration from a file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadOrDefault loads config from file or returns defaults
func LoadOrDefault(path string) *Config {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		return cfg
	}

	cfg, err := Load(path)
	if err != nil {
		fmt.Printf("Warning: Failed to load config from %s: %v\n", path, err)
		cfg = Default()
		cfg.applyEnvOverrides()
	}
	return cfg
}

// applyEnvOverrides expands ${VAR} patterns and applies direct
// CONTENTFORGE_* environment variable overrides
func (c *Config) applyEnvOverrides() {
	c.Database.DSN = expandEnv(c.Database.DSN)
	c.Database.Host = expandEnv(c.Database.Host)
	c.Database.User = expandEnv(c.Database.User)
	c.Database.Password = expandEnv(c.Database.Password)
	c.Security.MasterKey = expandEnv(c.Security.MasterKey)

	if v := os.Getenv("CONTENTFORGE_MASTER_KEY"); v != "" {
		c.Security.MasterKey = v
	}
	if v := os.Getenv("CONTENTFORGE_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("CONTENTFORGE_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("CONTENTFORGE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("CONTENTFORGE_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("CONTENTFORGE_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("CONTENTFORGE_DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("CONTENTFORGE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("CONTENTFORGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports configuration that cannot start the service
func (c *Config) Validate() error {
	if c.Security.MasterKey == "" {
		return fmt.Errorf("security.master_key is required (set CONTENTFORGE_MASTER_KEY)")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR patterns
func expandEnv(s string) string {
	if s == "" {
		return s
	}
	return os.ExpandEnv(s)
}
