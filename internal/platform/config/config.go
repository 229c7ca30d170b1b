// Package config loads application configuration from environment variables.
// All variables use the GRADES_ prefix.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Content  ContentConfig
	Grading  GradingConfig
	Reports  ReportsConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig holds PostgreSQL connection settings. An empty URL keeps
// scores and grading events in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Migrate  bool // apply the embedded schema on startup
}

// CacheConfig holds course structure cache settings.
type CacheConfig struct {
	Backend      string // "memory" or "redis"
	URL          string
	StructureTTL time.Duration
}

// ContentConfig holds the course content directory.
type ContentConfig struct {
	Path string
}

// GradingConfig holds bulk grading settings.
type GradingConfig struct {
	Concurrency int
}

// ReportsConfig holds grade report settings.
type ReportsConfig struct {
	Dir        string
	SigningKey string
	Locale     string
	Format     string // default format: "csv" or "xlsx"
	LinkTTL    time.Duration
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables with GRADES_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("GRADES_SERVER_PORT", 8080),
			Host: envStr("GRADES_SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			URL:      envStr("GRADES_DATABASE_URL", ""),
			MaxConns: envInt("GRADES_DATABASE_MAX_CONNS", 25),
			MinConns: envInt("GRADES_DATABASE_MIN_CONNS", 5),
			Migrate:  envBool("GRADES_DATABASE_MIGRATE", true),
		},
		Cache: CacheConfig{
			Backend:      envStr("GRADES_CACHE_BACKEND", "memory"),
			URL:          envStr("GRADES_CACHE_URL", "redis://localhost:6379"),
			StructureTTL: envDuration("GRADES_CACHE_STRUCTURE_TTL", time.Hour),
		},
		Content: ContentConfig{
			Path: envStr("GRADES_CONTENT_PATH", "./courses"),
		},
		Grading: GradingConfig{
			Concurrency: envInt("GRADES_GRADING_CONCURRENCY", 4),
		},
		Reports: ReportsConfig{
			Dir:        envStr("GRADES_REPORTS_DIR", "./reports"),
			SigningKey: envStr("GRADES_REPORTS_SIGNING_KEY", ""),
			Locale:     envStr("GRADES_REPORTS_LOCALE", "en"),
			Format:     envStr("GRADES_REPORTS_FORMAT", "csv"),
			LinkTTL:    envDuration("GRADES_REPORTS_LINK_TTL", 15*time.Minute),
		},
		Log: LogConfig{
			Level:  envStr("GRADES_LOG_LEVEL", "info"),
			Format: envStr("GRADES_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate checks enumerated settings and ranges.
func (c *Config) Validate() error {
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("GRADES_CACHE_BACKEND must be 'memory' or 'redis', got %q", c.Cache.Backend)
	}

	if c.Cache.Backend == "redis" && c.Cache.URL == "" {
		return fmt.Errorf("GRADES_CACHE_URL is required for the redis cache backend")
	}

	if c.Grading.Concurrency < 1 {
		return fmt.Errorf("GRADES_GRADING_CONCURRENCY must be at least 1, got %d", c.Grading.Concurrency)
	}

	if c.Reports.Format != "csv" && c.Reports.Format != "xlsx" {
		return fmt.Errorf("GRADES_REPORTS_FORMAT must be 'csv' or 'xlsx', got %q", c.Reports.Format)
	}

	if c.Reports.SigningKey == "" {
		return fmt.Errorf("GRADES_REPORTS_SIGNING_KEY is required")
	}
	if n := len(c.Reports.SigningKey); n > 64 {
		return fmt.Errorf("GRADES_REPORTS_SIGNING_KEY must be 1-64 bytes, got %d", n)
	}

	if c.Reports.LinkTTL <= 0 {
		return fmt.Errorf("GRADES_REPORTS_LINK_TTL must be positive")
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("GRADES_LOG_FORMAT must be 'json' or 'text', got %q", c.Log.Format)
	}

	return nil
}

// UsePostgres reports whether scores and events are kept in PostgreSQL.
func (c *Config) UsePostgres() bool {
	return c.Database.URL != ""
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true") || v == "1"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
