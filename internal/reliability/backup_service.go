// Package reliability provides backup, offsite replication and health
// monitoring for the tracking database.
package reliability

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// MaxBackups is the retention cap: after a cleanup pass at most this
	// many backup files remain, the most-recently-modified ones.
	MaxBackups = 7

	// BackupInterval is the minimum elapsed time between automatic backups.
	BackupInterval = 24 * time.Hour

	// backupPrefix names backup files; one file per calendar day at most,
	// since the date is part of the name and same-day backups overwrite.
	backupPrefix = "tracking_backup_"

	// markerFile persists the last successful backup time so routine checks
	// do not need to scan the backup directory.
	markerFile = ".last_backup"
)

// BackupService manages timestamped copy-and-rotate backups for a single
// database file.
//
// Concurrent CreateBackup calls for the same source are not serialized here;
// the scheduler's single-instance rule covers the scheduled job, and a manual
// backup racing it is harmless: both copies succeed and cleanup prunes the
// extra file.
type BackupService struct {
	sourcePath string
	backupDir  string
	log        zerolog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewBackupService creates a backup service for one database file.
// backupDir defaults to a "backups" directory beside the source file.
func NewBackupService(sourcePath, backupDir string, log zerolog.Logger) *BackupService {
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(sourcePath), "backups")
	}
	return &BackupService{
		sourcePath: sourcePath,
		backupDir:  backupDir,
		log:        log.With().Str("service", "backup").Logger(),
		now:        time.Now,
	}
}

// BackupDir returns the directory backups are written to.
func (s *BackupService) BackupDir() string {
	return s.backupDir
}

// BackupFilename returns the file name a backup created today would get,
// e.g. "tracking_backup_20260831.db".
func (s *BackupService) BackupFilename() string {
	return backupPrefix + s.now().Format("20060102") + filepath.Ext(s.sourcePath)
}

// CheckAndBackup creates a backup if one is due. A missing source file is
// "nothing to do", not an error. Returns true when a backup was created.
func (s *BackupService) CheckAndBackup() (bool, error) {
	if _, err := os.Stat(s.sourcePath); os.IsNotExist(err) {
		s.log.Debug().Str("source", s.sourcePath).Msg("Source file does not exist, skipping backup")
		return false, nil
	}

	last := s.LastBackupTime()
	if last != nil {
		elapsed := s.now().Sub(*last)
		if elapsed < BackupInterval {
			s.log.Debug().
				Dur("elapsed", elapsed).
				Msg("Backup not due yet")
			return false, nil
		}
	}

	if _, err := s.CreateBackup(); err != nil {
		return false, err
	}
	return true, nil
}

// CreateBackup copies the source file byte-for-byte into the backup
// directory, named by today's date. An existing backup for the same date is
// overwritten. The last-backup marker is updated and a retention sweep runs
// as a side effect.
func (s *BackupService) CreateBackup() (string, error) {
	if _, err := os.Stat(s.sourcePath); err != nil {
		return "", fmt.Errorf("source file unavailable: %w", err)
	}

	if err := os.MkdirAll(s.backupDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(s.backupDir, s.BackupFilename())
	if err := copyFile(s.sourcePath, backupPath); err != nil {
		return "", fmt.Errorf("failed to copy database: %w", err)
	}

	s.writeMarker(s.now())
	deleted := s.CleanupOldBackups()

	s.log.Info().
		Str("backup_path", backupPath).
		Int("pruned", deleted).
		Msg("Backup created")

	return backupPath, nil
}

// CleanupOldBackups deletes backup files beyond the retention cap, oldest by
// modification time first. Individual deletion failures are logged and
// skipped; the pass never aborts. Returns the number of files deleted.
func (s *BackupService) CleanupOldBackups() int {
	backups, err := s.listBackups()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to list backups for cleanup")
		return 0
	}

	if len(backups) <= MaxBackups {
		return 0
	}

	deleted := 0
	for _, backup := range backups[MaxBackups:] {
		if err := os.Remove(backup.path); err != nil {
			s.log.Warn().
				Str("path", backup.path).
				Err(err).
				Msg("Failed to delete old backup")
			continue
		}
		s.log.Debug().Str("path", backup.path).Msg("Deleted old backup")
		deleted++
	}

	return deleted
}

// LastBackupTime returns the time of the last successful backup, or nil when
// no backup has ever completed. The persisted marker is authoritative; a
// missing or unreadable marker degrades to the newest backup file's
// modification time, which is best effort only.
func (s *BackupService) LastBackupTime() *time.Time {
	if t := s.readMarker(); t != nil {
		return t
	}

	backups, err := s.listBackups()
	if err != nil || len(backups) == 0 {
		return nil
	}

	newest := backups[0].modTime
	return &newest
}

// BackupPaths returns the paths of all backup files on disk, newest first.
func (s *BackupService) BackupPaths() []string {
	backups, err := s.listBackups()
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(backups))
	for _, b := range backups {
		paths = append(paths, b.path)
	}
	return paths
}

// BackupCount returns the number of backup files currently on disk.
func (s *BackupService) BackupCount() int {
	backups, err := s.listBackups()
	if err != nil {
		return 0
	}
	return len(backups)
}

// backupFile pairs a backup path with its modification time.
type backupFile struct {
	path    string
	modTime time.Time
}

// listBackups returns backup files for the managed database, newest first
// by modification time.
func (s *BackupService) listBackups() ([]backupFile, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	ext := filepath.Ext(s.sourcePath)
	backups := make([]backupFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, backupPrefix) || filepath.Ext(name) != ext {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{
			path:    filepath.Join(s.backupDir, name),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})
	return backups, nil
}

// writeMarker persists the last-backup timestamp. Failures are logged only:
// the backup itself succeeded and the mtime fallback still works.
func (s *BackupService) writeMarker(t time.Time) {
	path := filepath.Join(s.backupDir, markerFile)
	if err := os.WriteFile(path, []byte(t.Format(time.RFC3339)), 0644); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write last-backup marker")
	}
}

// readMarker reads the persisted last-backup time, or nil when the marker is
// missing or unparseable.
func (s *BackupService) readMarker() *time.Time {
	data, err := os.ReadFile(filepath.Join(s.backupDir, markerFile))
	if err != nil {
		return nil
	}

	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		s.log.Warn().Err(err).Msg("Last-backup marker is unreadable, falling back to file scan")
		return nil
	}
	return &t
}

// copyFile copies src to dst byte-for-byte, replacing dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
