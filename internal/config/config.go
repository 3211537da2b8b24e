// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"customs-tracker/internal/reliability"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the database and backups (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	ClearanceAPIURL string // Base URL of the customs office status API

	ClearanceCheckInterval time.Duration // Interval between clearance status checks
	BackupInterval         time.Duration // Interval between local database backups
	OffsiteBackupInterval  time.Duration // Interval between offsite uploads (0 disables the job)
	HealthLogInterval      time.Duration // Interval between logged health snapshots
	OffsiteRetentionDays   int           // Offsite archives older than this are rotated out

	S3 reliability.S3Config
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRACKER_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("TRACKER_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		ClearanceAPIURL: getEnv("CLEARANCE_API_URL", "http://localhost:9000"),

		ClearanceCheckInterval: getEnvAsDuration("CLEARANCE_CHECK_INTERVAL", time.Hour),
		BackupInterval:         getEnvAsDuration("BACKUP_INTERVAL", 24*time.Hour),
		OffsiteBackupInterval:  getEnvAsDuration("OFFSITE_BACKUP_INTERVAL", 0),
		HealthLogInterval:      getEnvAsDuration("HEALTH_LOG_INTERVAL", time.Hour),
		OffsiteRetentionDays:   getEnvAsInt("OFFSITE_RETENTION_DAYS", 30),

		S3: reliability.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "auto"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DatabasePath returns the path of the tracking database inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tracking.db")
}

// BackupDir returns the directory local backups are written to.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ClearanceCheckInterval <= 0 {
		return fmt.Errorf("clearance check interval must be positive, got %s", c.ClearanceCheckInterval)
	}
	if c.BackupInterval <= 0 {
		return fmt.Errorf("backup interval must be positive, got %s", c.BackupInterval)
	}
	if c.HealthLogInterval <= 0 {
		return fmt.Errorf("health log interval must be positive, got %s", c.HealthLogInterval)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
