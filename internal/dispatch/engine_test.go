package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePresence struct{ drivers []presence.Driver }

func (f *fakePresence) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]presence.Driver, error) {
	return f.drivers, nil
}

// fakeHub records emitted events and exposes offers as a channel so
// tests can wait for dispatch to reach a specific driver.
type fakeHub struct {
	mu     sync.Mutex
	events []recordedEvent
	offers chan uint // driver ids that received ride_request
}

type recordedEvent struct {
	target string
	userID uint
	event  realtime.Event
}

func newFakeHub() *fakeHub {
	return &fakeHub{offers: make(chan uint, 16)}
}

func (f *fakeHub) EmitToUser(userID uint, event realtime.Event) {
	f.mu.Lock()
	f.events = append(f.events, recordedEvent{target: "user", userID: userID, event: event})
	f.mu.Unlock()
	if event.Type == realtime.EventRideRequest {
		f.offers <- userID
	}
}

func (f *fakeHub) EmitToRoom(room string, event realtime.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{target: room, event: event})
}

func (f *fakeHub) JoinRoom(room, identity string) {}
func (f *fakeHub) CloseRoom(room string)          {}

func (f *fakeHub) eventsOfType(eventType string) []recordedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedEvent
	for _, e := range f.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakeLocker struct {
	mu    sync.Mutex
	busy  map[uint]bool
	locks map[uint]uint
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{busy: make(map[uint]bool), locks: make(map[uint]uint)}
}

func (f *fakeLocker) IsBusy(ctx context.Context, partyID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy[partyID] || f.locks[partyID] != 0
}

func (f *fakeLocker) LockParties(ctx context.Context, riderID, driverID, rideID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[riderID] = rideID
	f.locks[driverID] = rideID
	return nil
}

func (f *fakeLocker) UnlockParties(ctx context.Context, rideID uint, partyIDs ...uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range partyIDs {
		delete(f.locks, id)
	}
}

type fakeIssuer struct {
	mu     sync.Mutex
	issued []uint
}

func (f *fakeIssuer) Issue(ctx context.Context, ride *models.Ride, riderPhone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, ride.ID)
	return nil
}

type engineFixture struct {
	engine *Engine
	rides  *rides.Service
	hub    *fakeHub
	locker *fakeLocker
	issuer *fakeIssuer
}

func newEngineFixture(t *testing.T, drivers []presence.Driver, window time.Duration) *engineFixture {
	t.Helper()
	rideSvc := rides.NewService(rides.NewMemStore(), testLogger())
	hub := newFakeHub()
	locker := newFakeLocker()
	issuer := &fakeIssuer{}
	engine := NewEngine(rideSvc, &fakePresence{drivers: drivers}, hub, locker, issuer,
		Config{OfferWindow: window}, testLogger())
	return &engineFixture{engine: engine, rides: rideSvc, hub: hub, locker: locker, issuer: issuer}
}

func (fx *engineFixture) createRide(t *testing.T, riderID uint) *models.Ride {
	t.Helper()
	ride, err := fx.rides.Create(context.Background(), rides.CreateInput{
		RiderID: riderID, PickupLat: 17.385, PickupLng: 78.487,
		PickupAddr: "a", DropLat: 17.44, DropLng: 78.38, DropAddr: "b",
		VehicleClass: models.VehicleClassCar,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

func waitOffer(t *testing.T, hub *fakeHub, want uint) {
	t.Helper()
	select {
	case got := <-hub.offers:
		if got != want {
			t.Fatalf("expected offer to driver %d, got %d", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for offer to driver %d", want)
	}
}

func TestDispatchNoCandidatesFailsFast(t *testing.T) {
	fx := newEngineFixture(t, nil, time.Minute)
	ride := fx.createRide(t, 1)

	start := time.Now()
	err := fx.engine.Dispatch(context.Background(), ride)
	if err != ErrNoDriversAvailable {
		t.Fatalf("expected ErrNoDriversAvailable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("no-candidate dispatch must not wait out the offer window")
	}

	final, _ := fx.rides.Get(context.Background(), ride.ID)
	if final.Status != models.RideStatusRejected {
		t.Fatalf("expected rejected, got %s", final.Status)
	}
	if len(fx.hub.eventsOfType(realtime.EventRideRejected)) == 0 {
		t.Error("rider should be told no drivers were found")
	}
}

func TestDispatchBestCandidateAccepts(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.385+0.0045, 78.487, 4.2, models.VehicleClassCar), // ~0.5km
		onlineDriver(12, 17.385+0.018, 78.487, 4.9, models.VehicleClassCar),  // ~2km
	}
	fx := newEngineFixture(t, drivers, 5*time.Second)
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	waitOffer(t, fx.hub, 11)

	accepted, err := fx.engine.TryAccept(context.Background(), ride.ID, 11)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.DriverID == nil || *accepted.DriverID != 11 {
		t.Fatalf("expected driver 11, got %v", accepted.DriverID)
	}

	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	fx.issuer.mu.Lock()
	issued := len(fx.issuer.issued)
	fx.issuer.mu.Unlock()
	if issued != 1 {
		t.Fatalf("expected one verification code issue, got %d", issued)
	}
	if len(fx.hub.eventsOfType(realtime.EventRideAccepted)) == 0 {
		t.Error("ride room should see the acceptance")
	}
}

func TestDispatchFailoverOnDecline(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.385+0.0045, 78.487, 4.2, models.VehicleClassCar),
		onlineDriver(12, 17.385+0.018, 78.487, 4.9, models.VehicleClassCar),
	}
	fx := newEngineFixture(t, drivers, 10*time.Second)
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	waitOffer(t, fx.hub, 11)
	declined := time.Now()
	fx.engine.Decline(ride.ID, 11)

	waitOffer(t, fx.hub, 12)
	if time.Since(declined) > 2*time.Second {
		t.Fatal("decline must advance the round without waiting out the window")
	}

	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 12); err != nil {
		t.Fatalf("accept by second candidate: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// The declined driver's offer was retracted.
	if len(fx.hub.eventsOfType(realtime.EventOfferRetracted)) == 0 {
		t.Error("expected an offer_retracted event for the declined driver")
	}
}

func TestDispatchDriverOfflineAdvancesRound(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.385+0.0045, 78.487, 4.2, models.VehicleClassCar),
		onlineDriver(12, 17.385+0.018, 78.487, 4.9, models.VehicleClassCar),
	}
	fx := newEngineFixture(t, drivers, 30*time.Second)
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	waitOffer(t, fx.hub, 11)
	wentOffline := time.Now()
	fx.engine.DriverOffline(11)

	waitOffer(t, fx.hub, 12)
	if time.Since(wentOffline) > 2*time.Second {
		t.Fatal("offline driver must not hold the round for the full window")
	}

	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 12); err != nil {
		t.Fatalf("accept: %v", err)
	}
	<-done
}

func TestDispatchExhaustsAfterAllDecline(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.386, 78.487, 4.2, models.VehicleClassCar),
		onlineDriver(12, 17.387, 78.487, 4.9, models.VehicleClassCar),
	}
	fx := newEngineFixture(t, drivers, 10*time.Second)
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	waitOffer(t, fx.hub, 11)
	fx.engine.Decline(ride.ID, 11)
	waitOffer(t, fx.hub, 12)
	fx.engine.Decline(ride.ID, 12)

	if err := <-done; err != ErrNoDriversAvailable {
		t.Fatalf("expected ErrNoDriversAvailable, got %v", err)
	}

	final, _ := fx.rides.Get(context.Background(), ride.ID)
	if final.Status != models.RideStatusRejected {
		t.Fatalf("expected rejected, got %s", final.Status)
	}
}

func TestDispatchSkipsBusyDriver(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.386, 78.487, 4.9, models.VehicleClassCar),
		onlineDriver(12, 17.387, 78.487, 4.2, models.VehicleClassCar),
	}
	fx := newEngineFixture(t, drivers, 10*time.Second)
	fx.locker.mu.Lock()
	fx.locker.busy[11] = true
	fx.locker.mu.Unlock()
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	// The better-ranked but busy driver 11 never sees an offer.
	waitOffer(t, fx.hub, 12)

	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 12); err != nil {
		t.Fatalf("accept: %v", err)
	}
	<-done
}

func TestCancelDispatchAbortsRound(t *testing.T) {
	drivers := []presence.Driver{
		onlineDriver(11, 17.386, 78.487, 4.2, models.VehicleClassCar),
	}
	fx := newEngineFixture(t, drivers, 30*time.Second)
	ride := fx.createRide(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.engine.Dispatch(context.Background(), ride) }()

	waitOffer(t, fx.hub, 11)

	if _, err := fx.rides.Cancel(context.Background(), ride.ID, "rider cancelled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	fx.engine.CancelDispatch(ride.ID)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("aborted dispatch should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not abort after cancellation")
	}

	// Any driver accepting the cancelled ride is now rejected.
	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 11); err != rides.ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTryAcceptSecondDriverLoses(t *testing.T) {
	fx := newEngineFixture(t, nil, time.Minute)
	ride := fx.createRide(t, 1)

	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 11); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := fx.engine.TryAccept(context.Background(), ride.ID, 12); err == nil {
		t.Fatal("second accept must fail")
	}

	final, _ := fx.rides.Get(context.Background(), ride.ID)
	if final.DriverID == nil || *final.DriverID != 11 {
		t.Fatalf("expected driver 11 to keep the ride, got %v", final.DriverID)
	}
}
