package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRACKER_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, time.Hour, cfg.ClearanceCheckInterval)
	assert.Equal(t, 24*time.Hour, cfg.BackupInterval)
	assert.Equal(t, time.Duration(0), cfg.OffsiteBackupInterval)
	assert.Equal(t, time.Hour, cfg.HealthLogInterval)
	assert.Equal(t, 30, cfg.OffsiteRetentionDays)
	assert.Equal(t, "http://localhost:9000", cfg.ClearanceAPIURL)
	assert.False(t, cfg.S3.IsConfigured())
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRACKER_DATA_DIR", t.TempDir())
	t.Setenv("TRACKER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("CLEARANCE_CHECK_INTERVAL", "15m")
	t.Setenv("OFFSITE_BACKUP_INTERVAL", "6h")
	t.Setenv("S3_ENDPOINT", "https://storage.example.com")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_BUCKET", "tracker-backups")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 15*time.Minute, cfg.ClearanceCheckInterval)
	assert.Equal(t, 6*time.Hour, cfg.OffsiteBackupInterval)
	assert.True(t, cfg.S3.IsConfigured())
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TRACKER_DATA_DIR", t.TempDir())
	t.Setenv("TRACKER_PORT", "not-a-number")
	t.Setenv("CLEARANCE_CHECK_INTERVAL", "garbage")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Hour, cfg.ClearanceCheckInterval)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("TRACKER_DATA_DIR", t.TempDir())
	t.Setenv("TRACKER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestDerivedPaths(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRACKER_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "tracking.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "backups"), cfg.BackupDir())
}
