// Package dispatch selects and notifies candidate drivers for new ride
// requests and drives the accept/reject negotiation. Offers go to the
// best-ranked candidate one at a time with a bounded response window
// and failover to the next candidate.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/observability"
	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
)

// ErrNoDriversAvailable is surfaced to the rider when dispatch has no
// candidates at request time or exhausts them all.
var ErrNoDriversAvailable = errors.New("no drivers available")

// PresenceSource yields nearby driver presence snapshots.
type PresenceSource interface {
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]presence.Driver, error)
}

// Notifier is the slice of the realtime coordinator dispatch drives.
type Notifier interface {
	EmitToUser(userID uint, event realtime.Event)
	EmitToRoom(room string, event realtime.Event)
	JoinRoom(room, identity string)
	CloseRoom(room string)
}

// Locker is the active-ride guard as seen from dispatch admission.
type Locker interface {
	IsBusy(ctx context.Context, partyID uint) bool
	LockParties(ctx context.Context, riderID, driverID, rideID uint) error
	UnlockParties(ctx context.Context, rideID uint, partyIDs ...uint)
}

// CodeIssuer issues the pickup verification code after acceptance.
type CodeIssuer interface {
	Issue(ctx context.Context, ride *models.Ride, riderPhone string) error
}

// Config tunes a dispatch engine.
type Config struct {
	OfferWindow   time.Duration // response window per candidate
	SearchRadius  float64       // km
	MaxCandidates int
}

func (c *Config) defaults() {
	if c.OfferWindow <= 0 {
		c.OfferWindow = 20 * time.Second
	}
	if c.SearchRadius <= 0 {
		c.SearchRadius = 10
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 10
	}
}

type answer struct {
	driverID uint
	accepted bool
}

type round struct {
	rideID  uint
	answers chan answer
	done    chan uint // winning driver id
	abort   chan struct{}
	current uint // driver holding the live offer, engine.mu guarded
}

// Engine runs one dispatch round per pending ride.
type Engine struct {
	rides    *rides.Service
	presence PresenceSource
	hub      Notifier
	guard    Locker
	verifier CodeIssuer
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	rounds map[uint]*round // by ride id
	offers map[uint]uint   // driver id -> ride id with a live offer
}

func NewEngine(rideSvc *rides.Service, src PresenceSource, hub Notifier, lock Locker, verifier CodeIssuer, cfg Config, logger *slog.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		rides:    rideSvc,
		presence: src,
		hub:      hub,
		guard:    lock,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		rounds:   make(map[uint]*round),
		offers:   make(map[uint]uint),
	}
}

// Dispatch runs the offer loop for a freshly created pending ride. It
// blocks until the ride is accepted, cancelled or exhausted, so
// callers usually run it in its own goroutine.
func (e *Engine) Dispatch(ctx context.Context, ride *models.Ride) error {
	started := time.Now()

	drivers, err := e.presence.Nearby(ctx, ride.PickupLat, ride.PickupLng, e.cfg.SearchRadius, e.cfg.MaxCandidates)
	if err != nil {
		e.logger.Error("presence lookup failed", "rideId", ride.ID, "error", err)
		drivers = nil
	}
	candidates := rank(drivers, ride.PickupLat, ride.PickupLng, ride.VehicleClass, time.Now())
	if len(candidates) == 0 {
		return e.exhaust(ctx, ride, "no drivers available")
	}

	r := &round{
		rideID:  ride.ID,
		answers: make(chan answer, len(candidates)),
		done:    make(chan uint, 1),
		abort:   make(chan struct{}),
	}
	e.mu.Lock()
	e.rounds[ride.ID] = r
	e.mu.Unlock()
	defer e.endRound(ride.ID)

	for _, cand := range candidates {
		driverID := cand.Driver.ID
		if e.guard.IsBusy(ctx, driverID) {
			continue
		}

		e.offer(ride, cand)

		outcome := e.await(ctx, r, driverID)
		switch outcome {
		case offerAccepted:
			observability.DispatchLatency.Observe(time.Since(started).Seconds())
			return nil
		case offerDeclined:
			observability.OffersDeclined.Inc()
			e.retract(ride.ID, driverID)
			continue
		case roundAborted:
			e.retract(ride.ID, driverID)
			return nil
		}
	}

	return e.exhaust(ctx, ride, "all candidates declined")
}

type offerOutcome int

const (
	offerAccepted offerOutcome = iota
	offerDeclined
	roundAborted
)

func (e *Engine) offer(ride *models.Ride, cand Candidate) {
	driverID := cand.Driver.ID
	e.mu.Lock()
	if r, ok := e.rounds[ride.ID]; ok {
		r.current = driverID
	}
	e.offers[driverID] = ride.ID
	e.mu.Unlock()

	e.hub.EmitToUser(driverID, realtime.Event{
		Type: realtime.EventRideRequest,
		Data: realtime.RideOffer{
			RideID:       ride.ID,
			RiderID:      ride.RiderID,
			PickupLat:    ride.PickupLat,
			PickupLng:    ride.PickupLng,
			PickupAddr:   ride.PickupAddr,
			DropLat:      ride.DropLat,
			DropLng:      ride.DropLng,
			DropAddr:     ride.DropAddr,
			VehicleClass: ride.VehicleClass,
			Fare:         ride.Fare,
			DistanceKm:   cand.DistanceKm,
			ExpiresInSec: int(e.cfg.OfferWindow.Seconds()),
		},
	})
	observability.OffersSent.Inc()
	e.logger.Info("offer sent", "rideId", ride.ID, "driverId", driverID, "score", cand.Score)
}

// await blocks until the current candidate answers, the window lapses,
// someone accepts out of band, or the round is aborted.
func (e *Engine) await(ctx context.Context, r *round, driverID uint) offerOutcome {
	timer := time.NewTimer(e.cfg.OfferWindow)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return roundAborted
		case <-r.abort:
			return roundAborted
		case <-r.done:
			return offerAccepted
		case a := <-r.answers:
			if a.driverID != driverID {
				continue // stale answer from an earlier candidate
			}
			if a.accepted {
				// Acceptance is finalized in TryAccept; a true answer
				// here only confirms the round is over.
				return offerAccepted
			}
			return offerDeclined
		case <-timer.C:
			return offerDeclined
		}
	}
}

func (e *Engine) exhaust(ctx context.Context, ride *models.Ride, reason string) error {
	if _, err := e.rides.Reject(ctx, ride.ID, reason); err != nil {
		// The rider may have cancelled while we were searching.
		if err != rides.ErrInvalidTransition && err != rides.ErrConflict {
			e.logger.Error("reject failed", "rideId", ride.ID, "error", err)
		}
		return err
	}
	observability.RidesExhausted.Inc()
	e.hub.EmitToUser(ride.RiderID, realtime.Event{
		Type: realtime.EventRideRejected,
		Data: realtime.RideStatusUpdate{RideID: ride.ID, Status: models.RideStatusRejected, Reason: reason},
	})
	e.logger.Info("ride exhausted", "rideId", ride.ID, "reason", reason)
	return ErrNoDriversAvailable
}

// TryAccept is the driver's accept path. Exactly one accept per ride
// wins: admission goes through the active-ride guard first (fail
// closed), then the state machine's conditional update.
func (e *Engine) TryAccept(ctx context.Context, rideID, driverID uint) (*models.Ride, error) {
	ride, err := e.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusPending {
		return nil, rides.ErrInvalidTransition
	}

	if err := e.guard.LockParties(ctx, ride.RiderID, driverID, rideID); err != nil {
		return nil, err
	}

	accepted, err := e.rides.Accept(ctx, rideID, driverID)
	if err != nil {
		e.guard.UnlockParties(ctx, rideID, ride.RiderID, driverID)
		return nil, err
	}

	observability.RidesMatched.Inc()

	// Both parties join the ride room before any fan-out so neither
	// misses the acceptance event.
	room := realtime.RideRoom(rideID)
	e.hub.JoinRoom(room, realtime.IdentityKey(accepted.RiderID))
	e.hub.JoinRoom(room, realtime.IdentityKey(driverID))

	e.hub.EmitToRoom(room, realtime.Event{
		Type: realtime.EventRideAccepted,
		Data: realtime.RideStatusUpdate{RideID: rideID, Status: accepted.Status, DriverID: driverID},
	})

	riderPhone := ""
	if accepted.Rider != nil {
		riderPhone = accepted.Rider.PhoneNumber
	}
	if err := e.verifier.Issue(ctx, accepted, riderPhone); err != nil {
		e.logger.Error("verification issue failed", "rideId", rideID, "error", err)
	}

	e.settleRound(rideID, driverID)
	e.logger.Info("ride accepted", "rideId", rideID, "driverId", driverID)
	return accepted, nil
}

// Decline records a candidate's explicit rejection and advances the
// round immediately.
func (e *Engine) Decline(rideID, driverID uint) {
	e.mu.Lock()
	r, ok := e.rounds[rideID]
	if ok && e.offers[driverID] == rideID {
		delete(e.offers, driverID)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case r.answers <- answer{driverID: driverID, accepted: false}:
	default:
	}
}

// DriverOffline invalidates any outstanding offer held by a driver
// that dropped offline, so the round advances without waiting out the
// window. Wired to presence.OnOffline.
func (e *Engine) DriverOffline(driverID uint) {
	e.mu.Lock()
	rideID, ok := e.offers[driverID]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.logger.Info("invalidating offer, driver offline", "rideId", rideID, "driverId", driverID)
	e.Decline(rideID, driverID)
}

// CancelDispatch aborts the offer loop after a rider cancellation and
// proactively retracts the live offer.
func (e *Engine) CancelDispatch(rideID uint) {
	e.mu.Lock()
	r, ok := e.rounds[rideID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-r.abort:
	default:
		close(r.abort)
	}
}

// settleRound marks the round won and retracts every other live offer
// for the ride.
func (e *Engine) settleRound(rideID, winnerID uint) {
	e.mu.Lock()
	r, ok := e.rounds[rideID]
	var losers []uint
	for driverID, rid := range e.offers {
		if rid == rideID && driverID != winnerID {
			losers = append(losers, driverID)
		}
		if rid == rideID {
			delete(e.offers, driverID)
		}
	}
	e.mu.Unlock()

	for _, driverID := range losers {
		e.retractNotify(rideID, driverID)
	}
	if ok {
		select {
		case r.done <- winnerID:
		default:
		}
	}
}

// retract clears the offer bookkeeping and tells the driver the offer
// is gone, so nobody believes a moot offer is live.
func (e *Engine) retract(rideID, driverID uint) {
	e.mu.Lock()
	if e.offers[driverID] == rideID {
		delete(e.offers, driverID)
	}
	e.mu.Unlock()
	e.retractNotify(rideID, driverID)
}

func (e *Engine) retractNotify(rideID, driverID uint) {
	observability.OffersRetracted.Inc()
	e.hub.EmitToUser(driverID, realtime.Event{
		Type: realtime.EventOfferRetracted,
		Data: map[string]interface{}{"rideId": rideID},
	})
}

func (e *Engine) endRound(rideID uint) {
	e.mu.Lock()
	delete(e.rounds, rideID)
	for driverID, rid := range e.offers {
		if rid == rideID {
			delete(e.offers, driverID)
		}
	}
	e.mu.Unlock()
}
