package guard

import (
	"context"
	"log/slog"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
)

// Service is the active-ride session guard. Locks are taken when a
// ride is accepted, released on terminal transitions, and reconciled
// against the authoritative ride status whenever a client checks in.
type Service struct {
	locks  LockStore
	rides  *rides.Service
	logger *slog.Logger
}

func NewService(locks LockStore, rideSvc *rides.Service, logger *slog.Logger) *Service {
	return &Service{locks: locks, rides: rideSvc, logger: logger}
}

// LockParties records the active-ride lock for both parties at
// acceptance time, all-or-nothing. A party already locked to another
// ride yields ErrLockConflict; the dispatch decision fails closed.
func (g *Service) LockParties(ctx context.Context, riderID, driverID, rideID uint) error {
	ok, err := g.locks.AcquireBoth(ctx, riderID, driverID, rideID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockConflict
	}
	return nil
}

// UnlockParties clears the lock for both parties after a terminal
// transition. Releases are conditional on the lock still pointing at
// this ride.
func (g *Service) UnlockParties(ctx context.Context, rideID uint, partyIDs ...uint) {
	if err := g.locks.Release(ctx, rideID, partyIDs...); err != nil {
		g.logger.Warn("lock release failed", "rideId", rideID, "error", err)
	}
}

// Held reports the ride a party is currently locked to, if any.
func (g *Service) Held(ctx context.Context, partyID uint) (uint, bool, error) {
	return g.locks.Get(ctx, partyID)
}

// IsBusy reports whether a party may be assigned a new ride. Lookup
// errors count as busy: dispatch admission fails closed.
func (g *Service) IsBusy(ctx context.Context, partyID uint) bool {
	if _, held, err := g.locks.Get(ctx, partyID); err != nil || held {
		return true
	}
	// The lock table only covers accepted rides; a pending ride also
	// blocks a second booking.
	if _, err := g.rides.ActiveForParty(ctx, partyID); err == nil {
		return true
	} else if err != rides.ErrNotFound {
		return true
	}
	return false
}

// Resolution is the outcome of reconciling a client-held ride
// reference against server truth.
type Resolution struct {
	RideID  uint         `json:"rideId,omitempty"`
	Status  string       `json:"status,omitempty"`
	Ride    *models.Ride `json:"ride,omitempty"`
	Cleared bool         `json:"cleared"`
	Unknown bool         `json:"unknown,omitempty"`
}

// Reconcile validates a client-held ride id for a party. Terminal or
// missing rides clear the lock; ownership mismatch clears and denies;
// a storage error fails open so the UI is not hard-blocked.
func (g *Service) Reconcile(ctx context.Context, partyID, claimedRideID uint) Resolution {
	ride, err := g.rides.Get(ctx, claimedRideID)
	if err == rides.ErrNotFound {
		g.UnlockParties(ctx, claimedRideID, partyID)
		return Resolution{Cleared: true}
	}
	if err != nil {
		// Fail open for the UI: report unknown rather than blocking.
		g.logger.Warn("reconcile read failed", "partyId", partyID, "rideId", claimedRideID, "error", err)
		return Resolution{RideID: claimedRideID, Unknown: true}
	}

	owns := ride.RiderID == partyID || (ride.DriverID != nil && *ride.DriverID == partyID)
	if !owns {
		g.UnlockParties(ctx, claimedRideID, partyID)
		return Resolution{Cleared: true}
	}
	if ride.IsTerminal() {
		g.UnlockParties(ctx, claimedRideID, partyID)
		return Resolution{RideID: ride.ID, Status: ride.Status, Cleared: true}
	}

	// Repair a lost lock so subsequent admission checks see it.
	if _, held, err := g.locks.Get(ctx, partyID); err == nil && !held && ride.Status != models.RideStatusPending {
		if err := g.locks.Set(ctx, partyID, ride.ID); err != nil {
			g.logger.Warn("lock repair failed", "partyId", partyID, "rideId", ride.ID, "error", err)
		}
	}
	return Resolution{RideID: ride.ID, Status: ride.Status, Ride: ride}
}

// Active resolves a party's current non-terminal ride for reconnect
// reconciliation, preferring the lock table and falling back to the
// ride store.
func (g *Service) Active(ctx context.Context, partyID uint) (*models.Ride, error) {
	if rideID, held, err := g.locks.Get(ctx, partyID); err == nil && held {
		ride, err := g.rides.Get(ctx, rideID)
		if err == nil && !ride.IsTerminal() {
			return ride, nil
		}
		// Stale lock: the ride finished while the client was away.
		g.UnlockParties(ctx, rideID, partyID)
	}
	return g.rides.ActiveForParty(ctx, partyID)
}
