package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"customs-tracker/internal/cache"
	"customs-tracker/internal/database"
	"customs-tracker/internal/events"
	"customs-tracker/internal/reliability"
	"customs-tracker/internal/scheduler"
	"customs-tracker/internal/tracking"
)

type stubChecker struct{}

func (stubChecker) CheckStatus(_ context.Context, _ string) (string, error) {
	return tracking.StatusPending, nil
}

type testEnv struct {
	server    *httptest.Server
	srv       *Server
	bus       *events.Bus
	scheduler *scheduler.Scheduler
	cache     *cache.QueryCache
	tracking  *tracking.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "tracking.db")

	db, err := database.New(database.Config{Path: dbPath, Name: "tracking"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := tracking.NewRepository(db.Conn(), log)
	require.NoError(t, err)

	bus := events.NewBus(log)
	manager := events.NewManager(bus, log)
	trackingService := tracking.NewService(repo, stubChecker{}, manager, log)

	sched := scheduler.New(manager, log)
	sched.Start()
	t.Cleanup(func() { sched.Stop(true) })

	queryCache := cache.New(log)
	backup := reliability.NewBackupService(dbPath, filepath.Join(dir, "backups"), log)
	health := reliability.NewHealthService(db, backup, log)

	srv := New(Config{
		Log:             log,
		Port:            0,
		DevMode:         true,
		EventBus:        bus,
		EventManager:    manager,
		TrackingService: trackingService,
		Scheduler:       sched,
		Cache:           queryCache,
		BackupService:   backup,
		HealthService:   health,
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:    ts,
		srv:       srv,
		bus:       bus,
		scheduler: sched,
		cache:     queryCache,
		tracking:  trackingService,
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	resp, err := http.Post(e.server.URL+path, "application/json", &body)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.get(t, "/api/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "health")
	assert.Contains(t, body, "jobs")
	assert.Equal(t, float64(0), body["declarations"])
}

func TestAddDeclaration(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/declarations", map[string]string{
		"reference":        "MRN-001",
		"declaration_type": "import",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "MRN-001", body["reference"])
	assert.Equal(t, "pending", body["status"])

	// Duplicate references are rejected.
	resp, _ = env.post(t, "/api/declarations", map[string]string{
		"reference":        "MRN-001",
		"declaration_type": "import",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAddDeclarationValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/api/declarations", map[string]string{
		"reference": "   ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetDeclaration(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tracking.Add("MRN-002", "export")
	require.NoError(t, err)

	resp, body := env.get(t, "/api/declarations/MRN-002")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "export", body["declaration_type"])

	resp, _ = env.get(t, "/api/declarations/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDeclarations(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tracking.Add("MRN-003", "import")
	require.NoError(t, err)
	_, err = env.tracking.Add("MRN-004", "import")
	require.NoError(t, err)

	resp, body := env.get(t, "/api/declarations/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["count"])
}

func TestPreviewCaching(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.tracking.Add("MRN-005", "import")
	require.NoError(t, err)

	resp, body := env.get(t, "/api/declarations/preview?status=pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, float64(1), body["count"])

	// Same filters hit the cache on the second request.
	resp, body = env.get(t, "/api/declarations/preview?status=pending")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, float64(1), body["count"])

	// Different filters miss.
	_, body = env.get(t, "/api/declarations/preview?status=cleared")
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, float64(0), body["count"])
}

func TestPreviewRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.get(t, "/api/declarations/preview?limit=abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	env := newTestEnv(t)

	ran := make(chan struct{}, 1)
	require.NoError(t, env.scheduler.AddJob("sweep", func() error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, time.Hour, false))

	resp, body := env.get(t, "/api/jobs/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["running"])

	resp, _ = env.post(t, "/api/jobs/sweep/run", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}

	resp, body = env.post(t, "/api/jobs/sweep/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", body["status"])

	resp, body = env.post(t, "/api/jobs/sweep/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resumed", body["status"])

	resp, _ = env.post(t, "/api/jobs/unknown/run", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.post(t, "/api/jobs/unknown/pause", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunJobStatusCodes(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.scheduler.AddJob("broken", func() error {
		return assert.AnError
	}, time.Hour, false))

	resp, _ := env.post(t, "/api/jobs/broken/run", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, env.scheduler.AddJob("slow", func() error {
		close(started)
		<-release
		return nil
	}, time.Hour, false))

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, _ := env.post(t, "/api/jobs/slow/run", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not start")
	}

	resp, _ = env.post(t, "/api/jobs/slow/run", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestBackupEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.post(t, "/api/backups/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.NotEmpty(t, body["path"])

	resp, body = env.get(t, "/api/backups/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.NotNil(t, body["last_backup"])
}

func TestSubscribedTypes(t *testing.T) {
	assert.Equal(t, events.AllEventTypes, subscribedTypes(""))
	assert.Equal(t, events.AllEventTypes, subscribedTypes("nonsense,garbage"))

	got := subscribedTypes("clearance.cleared, tracking.added")
	assert.Equal(t, []events.EventType{events.ClearanceCleared, events.TrackingAdded}, got)
}
