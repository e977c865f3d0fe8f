package guard

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) (*Service, *rides.Service) {
	t.Helper()
	rideSvc := rides.NewService(rides.NewMemStore(), testLogger())
	return NewService(NewMemLockStore(), rideSvc, testLogger()), rideSvc
}

func newRide(t *testing.T, rideSvc *rides.Service, riderID uint) *models.Ride {
	t.Helper()
	ride, err := rideSvc.Create(context.Background(), rides.CreateInput{
		RiderID: riderID, PickupLat: 17.385, PickupLng: 78.487,
		PickupAddr: "a", DropLat: 17.44, DropLng: 78.38, DropAddr: "b",
		VehicleClass: models.VehicleClassCar,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return ride
}

func TestLockPartiesConflicts(t *testing.T) {
	g, _ := newFixture(t)
	ctx := context.Background()

	if err := g.LockParties(ctx, 1, 2, 100); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	// Same driver, different ride and rider.
	if err := g.LockParties(ctx, 3, 2, 101); err != ErrLockConflict {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}
	// Same rider, different driver.
	if err := g.LockParties(ctx, 1, 4, 102); err != ErrLockConflict {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	// An unrelated pair locks fine.
	if err := g.LockParties(ctx, 5, 6, 103); err != nil {
		t.Fatalf("unrelated lock: %v", err)
	}
}

func TestLockFailureLeavesNoPartialState(t *testing.T) {
	g, _ := newFixture(t)
	ctx := context.Background()

	if err := g.LockParties(ctx, 1, 2, 100); err != nil {
		t.Fatalf("setup lock: %v", err)
	}
	// Rider 3 is free, driver 2 is not: all-or-nothing means rider 3
	// must stay unlocked after the failure.
	if err := g.LockParties(ctx, 3, 2, 101); err != ErrLockConflict {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}
	if _, held, _ := g.Held(ctx, 3); held {
		t.Fatal("failed acquisition must not leave a partial lock")
	}
}

func TestUnlockReleasesOnlyOwnRide(t *testing.T) {
	g, _ := newFixture(t)
	ctx := context.Background()

	if err := g.LockParties(ctx, 1, 2, 100); err != nil {
		t.Fatalf("lock: %v", err)
	}

	// A stale release from another ride is a no-op.
	g.UnlockParties(ctx, 999, 1, 2)
	if _, held, _ := g.Held(ctx, 1); !held {
		t.Fatal("release for a different ride must not clear the lock")
	}

	g.UnlockParties(ctx, 100, 1, 2)
	if _, held, _ := g.Held(ctx, 1); held {
		t.Fatal("expected lock cleared")
	}
	if _, held, _ := g.Held(ctx, 2); held {
		t.Fatal("expected driver lock cleared")
	}
}

func TestIsBusyCoversLocksAndPendingRides(t *testing.T) {
	g, rideSvc := newFixture(t)
	ctx := context.Background()

	if g.IsBusy(ctx, 1) {
		t.Fatal("fresh party must not be busy")
	}

	// A pending ride makes the rider busy before any lock exists.
	ride := newRide(t, rideSvc, 1)
	if !g.IsBusy(ctx, 1) {
		t.Fatal("rider with a pending ride is busy")
	}

	// A lock makes the driver busy.
	if err := g.LockParties(ctx, 1, 2, ride.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !g.IsBusy(ctx, 2) {
		t.Fatal("locked driver is busy")
	}
}

func TestReconcileUnknownRideClears(t *testing.T) {
	g, _ := newFixture(t)
	res := g.Reconcile(context.Background(), 1, 12345)
	if !res.Cleared {
		t.Fatal("missing ride must clear the client's cached reference")
	}
}

func TestReconcileOwnershipMismatchClears(t *testing.T) {
	g, rideSvc := newFixture(t)
	ride := newRide(t, rideSvc, 1)

	res := g.Reconcile(context.Background(), 42, ride.ID)
	if !res.Cleared {
		t.Fatal("a ride the party is not on must be cleared")
	}
	if res.Ride != nil {
		t.Fatal("foreign ride must not leak to the caller")
	}
}

func TestReconcileTerminalRideClearsLock(t *testing.T) {
	g, rideSvc := newFixture(t)
	ctx := context.Background()
	ride := newRide(t, rideSvc, 1)

	if _, err := rideSvc.Accept(ctx, ride.ID, 2); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := g.LockParties(ctx, 1, 2, ride.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := rideSvc.Start(ctx, ride.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rideSvc.Complete(ctx, ride.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	res := g.Reconcile(ctx, 1, ride.ID)
	if !res.Cleared {
		t.Fatal("terminal ride must clear")
	}
	if res.Status != models.RideStatusCompleted {
		t.Fatalf("expected final status reported, got %q", res.Status)
	}
	if _, held, _ := g.Held(ctx, 1); held {
		t.Fatal("stale lock must be released during reconcile")
	}
}

func TestReconcileActiveRideRepairsLostLock(t *testing.T) {
	g, rideSvc := newFixture(t)
	ctx := context.Background()
	ride := newRide(t, rideSvc, 1)

	if _, err := rideSvc.Accept(ctx, ride.ID, 2); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// No lock was ever taken (e.g. Redis flush); reconcile repairs it.
	res := g.Reconcile(ctx, 1, ride.ID)
	if res.Cleared || res.Unknown {
		t.Fatalf("active owned ride must reconcile to itself, got %+v", res)
	}
	if res.Status != models.RideStatusAccepted {
		t.Fatalf("expected accepted, got %q", res.Status)
	}
	if got, held, _ := g.Held(ctx, 1); !held || got != ride.ID {
		t.Fatal("reconcile should repair the missing lock")
	}
}

func TestActivePrefersLockAndDropsStaleOnes(t *testing.T) {
	g, rideSvc := newFixture(t)
	ctx := context.Background()
	ride := newRide(t, rideSvc, 1)

	if _, err := rideSvc.Accept(ctx, ride.ID, 2); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := g.LockParties(ctx, 1, 2, ride.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}

	active, err := g.Active(ctx, 1)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != ride.ID {
		t.Fatalf("expected ride %d, got %d", ride.ID, active.ID)
	}

	// Finish the ride but leave the lock behind: Active must not
	// resurrect a terminal ride.
	if _, err := rideSvc.Start(ctx, ride.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rideSvc.Complete(ctx, ride.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := g.Active(ctx, 1); err != rides.ErrNotFound {
		t.Fatalf("expected ErrNotFound for terminal ride, got %v", err)
	}
}
