package rides

import (
	"context"
	"log/slog"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/observability"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

// Service applies lifecycle transitions to rides. Every transition is
// validated against the transition table and written with a
// conditional update on the current persisted status, so concurrent
// writers serialize at the storage boundary.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Store exposes the underlying store for collaborators that only read.
func (s *Service) Store() Store {
	return s.store
}

// CreateInput carries a new ride request.
type CreateInput struct {
	RiderID      uint
	PickupLat    float64
	PickupLng    float64
	PickupAddr   string
	DropLat      float64
	DropLng      float64
	DropAddr     string
	VehicleClass string
}

// Create persists a new pending ride. Distance, duration estimate and
// fare are computed here and the fare is frozen once the ride leaves
// pending: no later transition patches it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Ride, error) {
	if _, err := s.store.FindActiveByParty(ctx, in.RiderID); err == nil {
		return nil, ErrActiveRide
	} else if err != ErrNotFound {
		return nil, err
	}

	distance := utils.HaversineDistance(in.PickupLat, in.PickupLng, in.DropLat, in.DropLng)
	duration := utils.CalculateETA(distance, 30)
	fare := utils.CalculateFare(distance, in.VehicleClass)

	ride := &models.Ride{
		RiderID:      in.RiderID,
		PickupLat:    in.PickupLat,
		PickupLng:    in.PickupLng,
		PickupAddr:   in.PickupAddr,
		DropLat:      in.DropLat,
		DropLng:      in.DropLng,
		DropAddr:     in.DropAddr,
		VehicleClass: in.VehicleClass,
		Distance:     fare.Distance,
		Duration:     duration,
		Fare:         fare.TotalFare,
		Status:       models.RideStatusPending,
	}
	if err := s.store.Create(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	s.logger.Info("ride created", "rideId", ride.ID, "riderId", in.RiderID, "fare", ride.Fare)
	return ride, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Ride, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]models.Ride, error) {
	return s.store.ListByStatus(ctx, models.RideStatusPending, limit)
}

func (s *Service) History(ctx context.Context, partyID uint, limit int) ([]models.Ride, error) {
	return s.store.ListForParty(ctx, partyID, limit)
}

// ActiveForParty returns the party's current non-terminal ride.
func (s *Service) ActiveForParty(ctx context.Context, partyID uint) (*models.Ride, error) {
	return s.store.FindActiveByParty(ctx, partyID)
}

// Accept transitions pending -> accepted and records the accepting
// driver. Exactly one of several concurrent accepts succeeds; the
// losers get ErrConflict or ErrInvalidTransition.
func (s *Service) Accept(ctx context.Context, rideID, driverID uint) (*models.Ride, error) {
	now := time.Now()
	return s.transition(ctx, rideID, models.RideStatusAccepted, map[string]interface{}{
		"status":      models.RideStatusAccepted,
		"driver_id":   driverID,
		"accepted_at": &now,
	})
}

// Reject transitions pending -> rejected after dispatch has exhausted
// all candidates.
func (s *Service) Reject(ctx context.Context, rideID uint, reason string) (*models.Ride, error) {
	now := time.Now()
	return s.transition(ctx, rideID, models.RideStatusRejected, map[string]interface{}{
		"status":        models.RideStatusRejected,
		"cancelled_at":  &now,
		"cancel_reason": reason,
	})
}

// Start transitions accepted -> started. Only the verification gate
// calls this, after the rider's code checks out.
func (s *Service) Start(ctx context.Context, rideID uint) (*models.Ride, error) {
	now := time.Now()
	return s.transition(ctx, rideID, models.RideStatusStarted, map[string]interface{}{
		"status":     models.RideStatusStarted,
		"otp_used":   true,
		"started_at": &now,
	})
}

// Complete transitions started -> completed.
func (s *Service) Complete(ctx context.Context, rideID uint) (*models.Ride, error) {
	now := time.Now()
	return s.transition(ctx, rideID, models.RideStatusCompleted, map[string]interface{}{
		"status":       models.RideStatusCompleted,
		"completed_at": &now,
	})
}

// Cancel moves a non-terminal ride to cancelled with a reason.
func (s *Service) Cancel(ctx context.Context, rideID uint, reason string) (*models.Ride, error) {
	now := time.Now()
	return s.transition(ctx, rideID, models.RideStatusCancelled, map[string]interface{}{
		"status":        models.RideStatusCancelled,
		"cancelled_at":  &now,
		"cancel_reason": reason,
	})
}

// AttachOTP writes a fresh verification code onto an accepted ride.
// The conditional update keeps it a no-op if the ride has moved on.
func (s *Service) AttachOTP(ctx context.Context, rideID uint, code string, issuedAt time.Time, resends int) error {
	ok, err := s.store.UpdateIfStatus(ctx, rideID, models.RideStatusAccepted, map[string]interface{}{
		"otp_code":      code,
		"otp_issued_at": &issuedAt,
		"otp_used":      false,
		"otp_resends":   resends,
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (s *Service) transition(ctx context.Context, rideID uint, to string, patch map[string]interface{}) (*models.Ride, error) {
	ride, err := s.store.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(ride.Status, to) {
		return nil, ErrInvalidTransition
	}
	ok, err := s.store.UpdateIfStatus(ctx, rideID, ride.Status, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.logger.Info("ride transition", "rideId", rideID, "from", ride.Status, "to", to)
	return s.store.GetByID(ctx, rideID)
}
