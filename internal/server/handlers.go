package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"customs-tracker/internal/cache"
	"customs-tracker/internal/events"
	"customs-tracker/internal/reliability"
	"customs-tracker/internal/scheduler"
	"customs-tracker/internal/tracking"
)

// Handlers implements the JSON API.
type Handlers struct {
	tracking      *tracking.Service
	scheduler     *scheduler.Scheduler
	cache         *cache.QueryCache
	backupService *reliability.BackupService
	healthService *reliability.HealthService
	manager       *events.Manager
	log           zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(
	trackingService *tracking.Service,
	sched *scheduler.Scheduler,
	queryCache *cache.QueryCache,
	backupService *reliability.BackupService,
	healthService *reliability.HealthService,
	manager *events.Manager,
	log zerolog.Logger,
) *Handlers {
	return &Handlers{
		tracking:      trackingService,
		scheduler:     sched,
		cache:         queryCache,
		backupService: backupService,
		healthService: healthService,
		manager:       manager,
		log:           log.With().Str("component", "handlers").Logger(),
	}
}

// HandleStatus returns a health snapshot plus scheduler state.
// GET /api/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := h.healthService.Snapshot()

	count, err := h.tracking.Repository().Count()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to count declarations")
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"health":       snapshot,
		"jobs":         h.scheduler.Jobs(),
		"declarations": count,
		"cache_size":   h.cache.Len(),
	})
}

// HandleAddDeclaration registers a new declaration.
// POST /api/declarations
func (h *Handlers) HandleAddDeclaration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference       string `json:"reference"`
		DeclarationType string `json:"declaration_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decl, err := h.tracking.Add(req.Reference, req.DeclarationType)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			h.writeError(w, http.StatusConflict, "reference already tracked")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, decl)
}

// HandleGetDeclaration returns one declaration by reference.
// GET /api/declarations/{reference}
func (h *Handlers) HandleGetDeclaration(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	decl, err := h.tracking.Repository().GetByReference(reference)
	if err != nil {
		if errors.Is(err, tracking.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "declaration not found")
			return
		}
		h.log.Error().Err(err).Str("reference", reference).Msg("Failed to load declaration")
		h.writeError(w, http.StatusInternalServerError, "failed to load declaration")
		return
	}

	h.writeJSON(w, http.StatusOK, decl)
}

// HandleListDeclarations returns pending declarations.
// GET /api/declarations
func (h *Handlers) HandleListDeclarations(w http.ResponseWriter, r *http.Request) {
	declarations, err := h.tracking.Repository().ListPending()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list declarations")
		h.writeError(w, http.StatusInternalServerError, "failed to list declarations")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"declarations": declarations,
		"count":        len(declarations),
	})
}

// HandlePreview returns declarations matching query filters. Results are
// served from the query cache when a fresh entry exists for the same filters.
// GET /api/declarations/preview
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	filters := tracking.PreviewFilters{
		Status:          r.URL.Query().Get("status"),
		DeclarationType: r.URL.Query().Get("type"),
		Reference:       r.URL.Query().Get("reference"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = limit
	}

	cacheKey := cache.GenerateKey(map[string]string{
		"status":    filters.Status,
		"type":      filters.DeclarationType,
		"reference": filters.Reference,
		"limit":     strconv.Itoa(filters.Limit),
	})

	if entry, ok := h.cache.Get(cacheKey); ok {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"declarations": entry.Data,
			"count":        len(entry.Data),
			"cached":       true,
		})
		return
	}

	declarations, err := h.tracking.Repository().Preview(filters)
	if err != nil {
		h.log.Error().Err(err).Msg("Preview query failed")
		h.writeError(w, http.StatusInternalServerError, "preview query failed")
		return
	}

	rows := declarationsToMaps(declarations)
	h.cache.Set(cacheKey, rows, cacheKey)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"declarations": rows,
		"count":        len(rows),
		"cached":       false,
	})
}

// HandleJobsStatus returns every registered job.
// GET /api/jobs
func (h *Handlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": h.scheduler.IsRunning(),
		"jobs":    h.scheduler.Jobs(),
	})
}

// HandleRunJob triggers a job immediately.
// POST /api/jobs/{id}/run
func (h *Handlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.log.Info().Str("job", id).Msg("Manual job trigger")

	if err := h.scheduler.RunJobNow(id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrUnknownJob):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, scheduler.ErrJobRunning):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"job":    id,
	})
}

// HandlePauseJob pauses a job's scheduled runs.
// POST /api/jobs/{id}/pause
func (h *Handlers) HandlePauseJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.scheduler.PauseJob(id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "paused",
		"job":    id,
	})
}

// HandleResumeJob resumes a paused job.
// POST /api/jobs/{id}/resume
func (h *Handlers) HandleResumeJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.scheduler.ResumeJob(id); err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "resumed",
		"job":    id,
	})
}

// HandleCreateBackup triggers a backup immediately.
// POST /api/backups
func (h *Handlers) HandleCreateBackup(w http.ResponseWriter, r *http.Request) {
	path, err := h.backupService.CreateBackup()
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.manager.EmitTyped("backup", &events.NotificationShowData{
		Title:    "Backup complete",
		Message:  "Database backup created",
		Severity: "info",
	})

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "completed",
		"path":   path,
	})
}

// HandleListBackups lists local backups.
// GET /api/backups
func (h *Handlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	paths := h.backupService.BackupPaths()

	var last *time.Time
	if t := h.backupService.LastBackupTime(); t != nil {
		last = t
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups":     paths,
		"count":       len(paths),
		"last_backup": last,
	})
}

// declarationsToMaps flattens declarations into the generic row shape the
// query cache stores.
func declarationsToMaps(declarations []tracking.Declaration) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(declarations))
	for _, d := range declarations {
		row := map[string]interface{}{
			"id":               d.ID,
			"reference":        d.Reference,
			"declaration_type": d.DeclarationType,
			"status":           d.Status,
			"registered_at":    d.RegisteredAt.Format(time.RFC3339),
		}
		if d.LastCheckedAt != nil {
			row["last_checked_at"] = d.LastCheckedAt.Format(time.RFC3339)
		}
		if d.ClearedAt != nil {
			row["cleared_at"] = d.ClearedAt.Format(time.RFC3339)
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
