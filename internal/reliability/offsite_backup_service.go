package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

const offsitePrefix = "tracking-backup-"

// ObjectStore is the slice of S3Client the offsite service depends on.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// OffsiteBackupService replicates local backups to an S3-compatible bucket
// as timestamped tar.gz archives with a metadata manifest.
type OffsiteBackupService struct {
	store         ObjectStore
	backupService *BackupService
	log           zerolog.Logger

	// now is swappable for tests
	now func() time.Time
}

// ArchiveMetadata describes the contents of one uploaded archive.
type ArchiveMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes a single file inside an archive.
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// OffsiteBackupInfo describes one archive stored in the bucket.
type OffsiteBackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// NewOffsiteBackupService creates a new offsite backup service.
func NewOffsiteBackupService(store ObjectStore, backupService *BackupService, log zerolog.Logger) *OffsiteBackupService {
	return &OffsiteBackupService{
		store:         store,
		backupService: backupService,
		log:           log.With().Str("service", "offsite_backup").Logger(),
		now:           time.Now,
	}
}

// CreateAndUploadBackup ensures a fresh local backup exists, archives every
// retained local backup plus a metadata manifest, and uploads the archive.
func (s *OffsiteBackupService) CreateAndUploadBackup(ctx context.Context) error {
	s.log.Info().Msg("Starting offsite backup")
	startTime := s.now()

	if _, err := s.backupService.CreateBackup(); err != nil {
		return fmt.Errorf("failed to create local backup: %w", err)
	}

	backupPaths := s.backupService.BackupPaths()
	if len(backupPaths) == 0 {
		return fmt.Errorf("no local backups to archive")
	}

	stagingDir, err := os.MkdirTemp("", "offsite-staging-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := ArchiveMetadata{
		Timestamp: s.now().UTC(),
		Files:     make([]FileMetadata, 0, len(backupPaths)),
	}
	for _, path := range backupPaths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return fmt.Errorf("failed to checksum %s: %w", path, err)
		}
		metadata.Files = append(metadata.Files, FileMetadata{
			Name:      filepath.Base(path),
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := offsitePrefix + s.now().Format("2006-01-02-150405") + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, append([]string{metadataPath}, backupPaths...)); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.store.Upload(ctx, archiveName, archiveFile); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("archive", archiveName).
		Int("files", len(metadata.Files)).
		Msg("Offsite backup completed")

	return nil
}

// ListBackups lists the archives stored in the bucket, newest first.
func (s *OffsiteBackupService) ListBackups(ctx context.Context) ([]OffsiteBackupInfo, error) {
	objects, err := s.store.List(ctx, offsitePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list offsite backups: %w", err)
	}

	backups := make([]OffsiteBackupInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		key := *obj.Key
		if !strings.HasPrefix(key, offsitePrefix) || !strings.HasSuffix(key, ".tar.gz") {
			continue
		}

		timestampStr := strings.TrimSuffix(strings.TrimPrefix(key, offsitePrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", timestampStr)
		if err != nil {
			s.log.Warn().Str("key", key).Msg("Failed to parse timestamp from key")
			continue
		}

		var sizeBytes int64
		if obj.Size != nil {
			sizeBytes = *obj.Size
		}

		backups = append(backups, OffsiteBackupInfo{
			Key:       key,
			Timestamp: timestamp,
			SizeBytes: sizeBytes,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes archives older than the retention period.
// A minimum of 3 archives is kept regardless of age; retentionDays of 0
// keeps everything beyond that minimum.
func (s *OffsiteBackupService) RotateOldBackups(ctx context.Context, retentionDays int) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}

	const minBackupsToKeep = 3
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	var cutoff time.Time
	if retentionDays > 0 {
		cutoff = s.now().AddDate(0, 0, -retentionDays)
	}

	deleted := 0
	for i, backup := range backups {
		if i < minBackupsToKeep || retentionDays == 0 {
			continue
		}
		if backup.Timestamp.Before(cutoff) {
			if err := s.store.Delete(ctx, backup.Key); err != nil {
				s.log.Error().Err(err).Str("key", backup.Key).Msg("Failed to delete old archive")
				continue
			}
			s.log.Info().Str("key", backup.Key).Msg("Deleted old archive")
			deleted++
		}
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Offsite backup rotation completed")

	return nil
}

// fileChecksum calculates the SHA256 checksum of a file.
func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

// writeMetadata writes the archive manifest as indented JSON.
func writeMetadata(path string, metadata ArchiveMetadata) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(metadata)
}

// createArchive builds a tar.gz containing the given files, flattened to
// their base names.
func createArchive(archivePath string, files []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()

	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	for _, path := range files {
		if err := addFileToArchive(tarWriter, path); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// addFileToArchive appends one file to a tar stream.
func addFileToArchive(tarWriter *tar.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tarWriter, file); err != nil {
		return err
	}
	return nil
}

// OffsiteBackupJob wraps the offsite service for the scheduler: one run
// uploads an archive and then rotates old ones.
type OffsiteBackupJob struct {
	service       *OffsiteBackupService
	retentionDays int
	timeout       time.Duration
}

// NewOffsiteBackupJob creates a new offsite backup job.
func NewOffsiteBackupJob(service *OffsiteBackupService, retentionDays int, timeout time.Duration) *OffsiteBackupJob {
	return &OffsiteBackupJob{service: service, retentionDays: retentionDays, timeout: timeout}
}

// Name returns the job name for the scheduler
func (j *OffsiteBackupJob) Name() string {
	return "offsite_backup"
}

// Run uploads a fresh archive and rotates old ones
func (j *OffsiteBackupJob) Run() error {
	ctx := context.Background()
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.service.RotateOldBackups(ctx, j.retentionDays)
}
