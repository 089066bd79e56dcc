// Package config loads server settings from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server settings.
type Config struct {
	DatabaseURL   string
	Port          string
	TablePrefix   string        // Prefix of the platform's tour tables. Default "mdl_".
	Retention     time.Duration // Age after which audit runs are swept. Default 30 days.
	SweepInterval time.Duration // Default 1h. Zero disables the sweeper.

	RedisAddr     string // Empty selects the in-memory analysis cache.
	RedisPassword string
	RedisDB       int
	AnalysisTTL   time.Duration // Default 10m.

	AllowedOrigins []string
}

// Default returns the configuration used when no variables are set.
func Default() *Config {
	return &Config{
		Port:           "8080",
		TablePrefix:    "mdl_",
		Retention:      30 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		AnalysisTTL:    10 * time.Minute,
		AllowedOrigins: []string{"*"},
	}
}

// FromEnv loads config from environment variables.
// DATABASE_URL, PORT, DB_TABLE_PREFIX, AUDIT_RETENTION_DAYS,
// AUDIT_SWEEP_INTERVAL_MINUTES, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB,
// ANALYSIS_CACHE_TTL_SECONDS, CORS_ALLOWED_ORIGINS
func FromEnv() *Config {
	cfg := Default()

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v, ok := os.LookupEnv("DB_TABLE_PREFIX"); ok {
		cfg.TablePrefix = v
	}

	if v := os.Getenv("AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retention = time.Duration(n) * 24 * time.Hour
		}
	}

	if v := os.Getenv("AUDIT_SWEEP_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SweepInterval = time.Duration(n) * time.Minute
		}
	}

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}

	if v := os.Getenv("ANALYSIS_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnalysisTTL = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}

	return cfg
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	return nil
}
