package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ClearanceServiceInterface defines the contract for the clearance check
// service. Used by the scheduler job to enable testing with mocks.
type ClearanceServiceInterface interface {
	CheckClearances(ctx context.Context) error
}

// BackupServiceInterface defines the contract for the backup service.
type BackupServiceInterface interface {
	CheckAndBackup() (bool, error)
}

// ClearanceCheckJob periodically re-checks pending declarations against the
// external clearance source.
type ClearanceCheckJob struct {
	service ClearanceServiceInterface
	timeout time.Duration
	log     zerolog.Logger
}

// NewClearanceCheckJob creates a new clearance check job.
func NewClearanceCheckJob(service ClearanceServiceInterface, timeout time.Duration, log zerolog.Logger) *ClearanceCheckJob {
	return &ClearanceCheckJob{
		service: service,
		timeout: timeout,
		log:     log.With().Str("job", "clearance_check").Logger(),
	}
}

// Name returns the job name
func (j *ClearanceCheckJob) Name() string {
	return "clearance_check"
}

// Run executes one clearance check pass
func (j *ClearanceCheckJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	return j.service.CheckClearances(ctx)
}

// DatabaseBackupJob wraps the backup service's time-gated check for the
// scheduler. The 24-hour gate lives in the service, so this job can run at
// a much shorter interval and still back up at most once per day.
type DatabaseBackupJob struct {
	service BackupServiceInterface
	log     zerolog.Logger
}

// NewDatabaseBackupJob creates a new database backup job.
func NewDatabaseBackupJob(service BackupServiceInterface, log zerolog.Logger) *DatabaseBackupJob {
	return &DatabaseBackupJob{
		service: service,
		log:     log.With().Str("job", "database_backup").Logger(),
	}
}

// Name returns the job name
func (j *DatabaseBackupJob) Name() string {
	return "database_backup"
}

// Run performs a backup if one is due
func (j *DatabaseBackupJob) Run() error {
	created, err := j.service.CheckAndBackup()
	if err != nil {
		return err
	}
	if created {
		j.log.Info().Msg("Scheduled backup created")
	}
	return nil
}
