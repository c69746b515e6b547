package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string

	// StoreBackend selects where room state persists: redis or postgres.
	StoreBackend string
	RedisURL     string
	DatabaseURL  string
	TablePrefix  string

	// AnalysisURL points at the external semantic-analysis service.
	// Empty disables the analysis endpoints.
	AnalysisURL string

	// SnapshotInterval is how often dirty document replicas are flushed
	// to the durable store.
	SnapshotInterval time.Duration

	// Logging
	LogDir      string
	MaxLogFiles int

	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      env,
		CORSOrigins:      getEnv("CORS_ORIGINS", "http://localhost:3000"),
		StoreBackend:     getEnv("STORE_BACKEND", StoreRedis),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		TablePrefix:      getTablePrefix(env),
		AnalysisURL:      getEnv("ANALYSIS_URL", ""),
		SnapshotInterval: getDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		LogDir:           getEnv("LOG_DIR", ""),
		MaxLogFiles:      10,
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// fileConfig is the optional YAML overlay (coscribe.yaml). Only fields
// present in the file override the environment-derived values.
type fileConfig struct {
	Port             string `yaml:"port"`
	Environment      string `yaml:"environment"`
	CORSOrigins      string `yaml:"cors_origins"`
	StoreBackend     string `yaml:"store_backend"`
	RedisURL         string `yaml:"redis_url"`
	DatabaseURL      string `yaml:"database_url"`
	TablePrefix      string `yaml:"table_prefix"`
	AnalysisURL      string `yaml:"analysis_url"`
	SnapshotInterval string `yaml:"snapshot_interval"`
	LogDir           string `yaml:"log_dir"`
}

// ApplyFile overlays settings from a YAML file. A missing file is not an
// error; env-only deployments never ship one.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIf(&c.Port, fc.Port)
	setIf(&c.Environment, fc.Environment)
	setIf(&c.CORSOrigins, fc.CORSOrigins)
	setIf(&c.StoreBackend, fc.StoreBackend)
	setIf(&c.RedisURL, fc.RedisURL)
	setIf(&c.DatabaseURL, fc.DatabaseURL)
	setIf(&c.TablePrefix, fc.TablePrefix)
	setIf(&c.AnalysisURL, fc.AnalysisURL)
	setIf(&c.LogDir, fc.LogDir)
	if fc.SnapshotInterval != "" {
		d, err := time.ParseDuration(fc.SnapshotInterval)
		if err != nil {
			return fmt.Errorf("parse snapshot_interval: %w", err)
		}
		c.SnapshotInterval = d
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
