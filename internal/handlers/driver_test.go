package handlers

import (
	"testing"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
)

func TestRouteDriverLocationWithActiveRide(t *testing.T) {
	driverID := uint(7)
	ride := &models.Ride{RiderID: 3, DriverID: &driverID, Status: models.RideStatusStarted}
	ride.ID = 42
	update := realtime.LocationUpdate{DriverID: driverID, Lat: 17.4, Lng: 78.4}

	room, event := routeDriverLocation(ride, update)

	if room != realtime.RideRoom(42) {
		t.Errorf("room = %q, want %q", room, realtime.RideRoom(42))
	}
	if event.Type != realtime.EventDriverLocation {
		t.Errorf("event type = %q, want %q", event.Type, realtime.EventDriverLocation)
	}
	if got, ok := event.Data.(realtime.LocationUpdate); !ok || got.DriverID != driverID {
		t.Errorf("event data = %+v", event.Data)
	}
}

func TestRouteDriverLocationWithoutRideFeedsRiderMap(t *testing.T) {
	update := realtime.LocationUpdate{DriverID: 9, Lat: 17.4, Lng: 78.4}

	room, event := routeDriverLocation(nil, update)

	if room != "" {
		t.Errorf("expected broadcast (empty room), got %q", room)
	}
	if event.Type != realtime.EventOnlineDrivers {
		t.Errorf("event type = %q, want %q", event.Type, realtime.EventOnlineDrivers)
	}
}
