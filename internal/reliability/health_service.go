package reliability

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"customs-tracker/internal/database"
)

// HealthService reports process and database health for the status endpoint.
type HealthService struct {
	db            *database.DB
	backupService *BackupService
	log           zerolog.Logger
	startTime     time.Time
}

// HealthSnapshot is one point-in-time health reading.
type HealthSnapshot struct {
	Status               string     `json:"status"`
	UptimeSeconds        int64      `json:"uptime_seconds"`
	CPUPercent           float64    `json:"cpu_percent"`
	MemoryPercent        float64    `json:"memory_percent"`
	DatabaseSizeMB       float64    `json:"database_size_mb"`
	WALSizeMB            float64    `json:"wal_size_mb"`
	IntegrityCheckPassed bool       `json:"integrity_check_passed"`
	LastBackup           *time.Time `json:"last_backup,omitempty"`
	BackupCount          int        `json:"backup_count"`
}

// NewHealthService creates a new health service.
func NewHealthService(db *database.DB, backupService *BackupService, log zerolog.Logger) *HealthService {
	return &HealthService{
		db:            db,
		backupService: backupService,
		log:           log.With().Str("service", "health").Logger(),
		startTime:     time.Now(),
	}
}

// Snapshot collects a health reading. Individual probe failures are logged
// and reported as zero values rather than failing the whole snapshot.
func (s *HealthService) Snapshot() HealthSnapshot {
	snapshot := HealthSnapshot{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}

	snapshot.CPUPercent, snapshot.MemoryPercent = s.systemStats()

	if info, err := os.Stat(s.db.Path()); err == nil {
		snapshot.DatabaseSizeMB = float64(info.Size()) / 1024 / 1024
	}
	if info, err := os.Stat(s.db.Path() + "-wal"); err == nil {
		snapshot.WALSizeMB = float64(info.Size()) / 1024 / 1024
	}

	if err := s.db.IntegrityCheck(); err != nil {
		s.log.Error().Err(err).Msg("Integrity check failed")
		snapshot.Status = "degraded"
	} else {
		snapshot.IntegrityCheckPassed = true
	}

	if s.backupService != nil {
		if last := s.backupService.LastBackupTime(); last != nil {
			snapshot.LastBackup = last
		}
		snapshot.BackupCount = s.backupService.BackupCount()
	}

	return snapshot
}

// HealthLogJob periodically writes a health snapshot to the log so operators
// can spot drift in database size or failed integrity checks between restarts.
type HealthLogJob struct {
	service *HealthService
	log     zerolog.Logger
}

// NewHealthLogJob creates a new health log job.
func NewHealthLogJob(service *HealthService, log zerolog.Logger) *HealthLogJob {
	return &HealthLogJob{
		service: service,
		log:     log.With().Str("job", "health_log").Logger(),
	}
}

// Name returns the job name for the scheduler
func (j *HealthLogJob) Name() string {
	return "health_log"
}

// Run takes a snapshot and logs it. A degraded status is returned as an
// error so the scheduler emits a workflow error event for it.
func (j *HealthLogJob) Run() error {
	snapshot := j.service.Snapshot()

	j.log.Info().
		Str("status", snapshot.Status).
		Int64("uptime_seconds", snapshot.UptimeSeconds).
		Float64("cpu_percent", snapshot.CPUPercent).
		Float64("memory_percent", snapshot.MemoryPercent).
		Float64("database_size_mb", snapshot.DatabaseSizeMB).
		Float64("wal_size_mb", snapshot.WALSizeMB).
		Bool("integrity_check_passed", snapshot.IntegrityCheckPassed).
		Int("backup_count", snapshot.BackupCount).
		Msg("Health snapshot")

	if snapshot.Status != "ok" {
		return fmt.Errorf("health status is %s", snapshot.Status)
	}
	return nil
}

// systemStats returns CPU and RAM usage percentages.
// Uses a 100ms sampling interval so the status endpoint stays responsive.
func (s *HealthService) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
