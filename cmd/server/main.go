// Package main is the entry point for the customs declaration tracker
// coordination daemon. It wires the notification bus, the job scheduler,
// the query cache and the backup services around a single sqlite tracking
// database and exposes a JSON API plus event streams for UI clients.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"customs-tracker/internal/cache"
	"customs-tracker/internal/config"
	"customs-tracker/internal/database"
	"customs-tracker/internal/events"
	"customs-tracker/internal/reliability"
	"customs-tracker/internal/scheduler"
	"customs-tracker/internal/server"
	"customs-tracker/internal/tracking"
	"customs-tracker/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting customs tracker")

	// Database
	db, err := database.New(database.Config{
		Path: cfg.DatabasePath(),
		Name: "tracking",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open tracking database")
	}

	// Notification bus
	bus := events.NewBus(log)
	manager := events.NewManager(bus, log)

	// Query cache, invalidated whenever tracking data changes
	queryCache := cache.New(log)
	for _, eventType := range []events.EventType{events.TrackingAdded, events.TrackingUpdated} {
		bus.Subscribe(eventType, "query_cache", func(events.Event) {
			queryCache.InvalidateAll()
		})
	}

	// Tracking service against the customs office API
	repo, err := tracking.NewRepository(db.Conn(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize declaration repository")
	}
	checker := tracking.NewHTTPStatusChecker(cfg.ClearanceAPIURL, log)
	trackingService := tracking.NewService(repo, checker, manager, log)

	// Backup services
	backupService := reliability.NewBackupService(cfg.DatabasePath(), cfg.BackupDir(), log)

	var offsiteService *reliability.OffsiteBackupService
	if cfg.S3.IsConfigured() {
		s3Client, err := reliability.NewS3Client(cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize object store client")
		}
		offsiteService = reliability.NewOffsiteBackupService(s3Client, backupService, log)
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("Offsite backups enabled")
	}

	healthService := reliability.NewHealthService(db, backupService, log)

	// Scheduler and jobs
	sched := scheduler.New(manager, log)
	sched.Start()

	clearanceJob := scheduler.NewClearanceCheckJob(trackingService, 10*time.Minute, log)
	if err := sched.RegisterJob(clearanceJob, cfg.ClearanceCheckInterval, true); err != nil {
		log.Error().Err(err).Msg("Initial clearance check failed")
	}

	// The backup job polls hourly; the service's own 24h gate decides when a
	// backup is actually written.
	backupJob := scheduler.NewDatabaseBackupJob(backupService, log)
	backupInterval := cfg.BackupInterval
	if backupInterval > time.Hour {
		backupInterval = time.Hour
	}
	if err := sched.RegisterJob(backupJob, backupInterval, true); err != nil {
		log.Error().Err(err).Msg("Initial backup check failed")
	}

	healthLogJob := reliability.NewHealthLogJob(healthService, log)
	if err := sched.RegisterJob(healthLogJob, cfg.HealthLogInterval, false); err != nil {
		log.Error().Err(err).Msg("Failed to register health log job")
	}

	if offsiteService != nil && cfg.OffsiteBackupInterval > 0 {
		offsiteJob := reliability.NewOffsiteBackupJob(offsiteService, cfg.OffsiteRetentionDays, 15*time.Minute)
		if err := sched.RegisterJob(offsiteJob, cfg.OffsiteBackupInterval, false); err != nil {
			log.Error().Err(err).Msg("Failed to register offsite backup job")
		}
	}

	// HTTP server
	srv := server.New(server.Config{
		Log:             log,
		Port:            cfg.Port,
		DevMode:         cfg.DevMode,
		EventBus:        bus,
		EventManager:    manager,
		TrackingService: trackingService,
		Scheduler:       sched,
		Cache:           queryCache,
		BackupService:   backupService,
		HealthService:   healthService,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler first so no job touches the database mid-shutdown.
	// Waits for in-flight jobs to finish.
	sched.Stop(true)
	log.Info().Msg("Scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}

	log.Info().Msg("Server stopped")
}
