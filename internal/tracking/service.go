package tracking

import (
	"context"
	"fmt"
	"time"

	"customs-tracker/internal/events"

	"github.com/rs/zerolog"
)

// StatusChecker queries the external clearance source for the current status
// of a declaration. Implementations live outside this package; the service
// only orchestrates calls and relays outcomes through the notification bus.
type StatusChecker interface {
	CheckStatus(ctx context.Context, reference string) (string, error)
}

// Service runs clearance checks over tracked declarations.
type Service struct {
	repo    *Repository
	checker StatusChecker
	manager *events.Manager
	log     zerolog.Logger
}

// NewService creates a clearance check service.
func NewService(repo *Repository, checker StatusChecker, manager *events.Manager, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		checker: checker,
		manager: manager,
		log:     log.With().Str("service", "tracking").Logger(),
	}
}

// Repository returns the underlying declaration store.
func (s *Service) Repository() *Repository {
	return s.repo
}

// Add registers a new declaration for tracking and announces it on the bus.
func (s *Service) Add(reference, declarationType string) (*Declaration, error) {
	decl, err := s.repo.Add(reference, declarationType)
	if err != nil {
		return nil, err
	}

	s.manager.EmitTyped("tracking", &events.TrackingAddedData{
		Reference:       decl.Reference,
		DeclarationType: decl.DeclarationType,
	})
	return decl, nil
}

// CheckClearances re-checks every pending declaration against the external
// source. One declaration's failure never aborts the pass; each outcome is
// relayed through the bus and the overall error only reports that some
// checks failed.
func (s *Service) CheckClearances(ctx context.Context) error {
	pending, err := s.repo.ListPending()
	if err != nil {
		return fmt.Errorf("failed to list pending declarations: %w", err)
	}

	if len(pending) == 0 {
		s.log.Debug().Msg("No pending declarations to check")
		return nil
	}

	s.log.Info().Int("count", len(pending)).Msg("Checking clearance status")

	failures := 0
	for _, decl := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.checkOne(ctx, decl); err != nil {
			failures++
			s.log.Error().
				Err(err).
				Str("reference", decl.Reference).
				Msg("Clearance check failed")
		}
	}

	if failures > 0 {
		return fmt.Errorf("clearance check finished with %d of %d failures", failures, len(pending))
	}
	return nil
}

// checkOne queries one declaration and applies the status transition.
func (s *Service) checkOne(ctx context.Context, decl Declaration) error {
	status, err := s.checker.CheckStatus(ctx, decl.Reference)
	if err != nil {
		return fmt.Errorf("status source: %w", err)
	}

	s.manager.EmitTyped("tracking", &events.ClearanceCheckedData{
		Reference: decl.Reference,
		Status:    status,
		CheckedAt: time.Now(),
	})

	if status == decl.Status {
		// Still stamp the check time so staleness is visible
		if err := s.repo.UpdateStatus(decl.Reference, status); err != nil {
			return err
		}
		return nil
	}

	if err := s.repo.UpdateStatus(decl.Reference, status); err != nil {
		return fmt.Errorf("failed to persist status: %w", err)
	}

	s.manager.EmitTyped("tracking", &events.TrackingUpdatedData{
		Reference: decl.Reference,
		OldStatus: decl.Status,
		NewStatus: status,
	})

	if status == StatusCleared {
		s.manager.EmitTyped("tracking", &events.ClearanceClearedData{
			Reference: decl.Reference,
			ClearedAt: time.Now(),
		})
		s.manager.EmitTyped("tracking", &events.NotificationShowData{
			Title:    "Declaration cleared",
			Message:  fmt.Sprintf("%s has cleared customs", decl.Reference),
			Severity: "info",
		})
	}

	return nil
}
