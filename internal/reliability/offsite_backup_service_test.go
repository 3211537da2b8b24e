package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	listErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) List(_ context.Context, prefix string) ([]types.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var result []types.Object
	for key, data := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			result = append(result, types.Object{
				Key:  aws.String(key),
				Size: aws.Int64(int64(len(data))),
			})
		}
	}
	return result, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func newTestOffsiteService(t *testing.T) (*OffsiteBackupService, *fakeObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "tracking.db")
	require.NoError(t, os.WriteFile(sourcePath, []byte("declaration data"), 0644))

	local := NewBackupService(sourcePath, filepath.Join(dir, "backups"), zerolog.Nop())
	store := newFakeObjectStore()
	svc := NewOffsiteBackupService(store, local, zerolog.Nop())
	return svc, store, sourcePath
}

func TestOffsiteCreateAndUploadBackup(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)

	err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	require.Len(t, store.objects, 1)
	var key string
	var data []byte
	for k, v := range store.objects {
		key, data = k, v
	}
	store.mu.Unlock()

	assert.Contains(t, key, "tracking-backup-")
	assert.Contains(t, key, ".tar.gz")

	// The archive must contain the metadata manifest plus the local backup.
	entries := readArchive(t, data)
	require.Len(t, entries, 2)

	metaRaw, ok := entries["backup-metadata.json"]
	require.True(t, ok, "archive should contain metadata manifest")

	var metadata ArchiveMetadata
	require.NoError(t, json.Unmarshal(metaRaw, &metadata))
	require.Len(t, metadata.Files, 1)
	assert.Contains(t, metadata.Files[0].Name, "tracking_backup_")
	assert.Contains(t, metadata.Files[0].Checksum, "sha256:")
	assert.Equal(t, int64(len("declaration data")), metadata.Files[0].SizeBytes)

	backupRaw, ok := entries[metadata.Files[0].Name]
	require.True(t, ok, "archive should contain the backup file itself")
	assert.Equal(t, "declaration data", string(backupRaw))
}

func TestOffsiteUploadFailsWithoutSource(t *testing.T) {
	svc, _, sourcePath := newTestOffsiteService(t)
	require.NoError(t, os.Remove(sourcePath))

	err := svc.CreateAndUploadBackup(context.Background())
	assert.Error(t, err)
}

func TestOffsiteListBackupsSortedNewestFirst(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)

	store.objects["tracking-backup-2026-01-01-120000.tar.gz"] = []byte("old")
	store.objects["tracking-backup-2026-03-01-120000.tar.gz"] = []byte("new")
	store.objects["tracking-backup-2026-02-01-120000.tar.gz"] = []byte("mid")
	store.objects["unrelated-object.txt"] = []byte("noise")
	store.objects["tracking-backup-not-a-timestamp.tar.gz"] = []byte("bad")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "tracking-backup-2026-03-01-120000.tar.gz", backups[0].Key)
	assert.Equal(t, "tracking-backup-2026-02-01-120000.tar.gz", backups[1].Key)
	assert.Equal(t, "tracking-backup-2026-01-01-120000.tar.gz", backups[2].Key)
	assert.Equal(t, int64(3), backups[0].SizeBytes)
}

func TestOffsiteRotateKeepsMinimum(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)
	svc.now = func() time.Time {
		return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	}

	// All three are ancient but must survive the minimum-keep rule.
	store.objects["tracking-backup-2020-01-01-120000.tar.gz"] = []byte("a")
	store.objects["tracking-backup-2020-01-02-120000.tar.gz"] = []byte("b")
	store.objects["tracking-backup-2020-01-03-120000.tar.gz"] = []byte("c")

	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 3)
}

func TestOffsiteRotateDeletesExpired(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)
	svc.now = func() time.Time {
		return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	}

	// Three recent, two expired.
	for i := 1; i <= 3; i++ {
		key := fmt.Sprintf("tracking-backup-2026-05-%02d-120000.tar.gz", 20+i)
		store.objects[key] = []byte("recent")
	}
	store.objects["tracking-backup-2026-01-01-120000.tar.gz"] = []byte("expired")
	store.objects["tracking-backup-2026-02-01-120000.tar.gz"] = []byte("expired")

	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)
	for _, b := range backups {
		assert.True(t, b.Timestamp.Year() == 2026 && b.Timestamp.Month() == time.May)
	}
}

func TestOffsiteRotateZeroRetentionKeepsAll(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)

	for i := 1; i <= 5; i++ {
		key := fmt.Sprintf("tracking-backup-2020-01-%02d-120000.tar.gz", i)
		store.objects[key] = []byte("x")
	}

	require.NoError(t, svc.RotateOldBackups(context.Background(), 0))

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Len(t, backups, 5)
}

func TestOffsiteBackupJobRun(t *testing.T) {
	svc, store, _ := newTestOffsiteService(t)
	job := NewOffsiteBackupJob(svc, 30, time.Minute)

	assert.Equal(t, "offsite_backup", job.Name())
	require.NoError(t, job.Run())

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.objects, 1)
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[header.Name] = content
	}
	return entries
}
