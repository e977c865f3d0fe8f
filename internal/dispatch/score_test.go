package dispatch

import (
	"testing"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
)

func onlineDriver(id uint, lat, lng, rating float64, class string) presence.Driver {
	return presence.Driver{
		ID: id, Lat: lat, Lng: lng, Rating: rating,
		VehicleClass: class, Online: true, Available: true,
		UpdatedAt: time.Now(),
	}
}

func TestScoreDecreasesWithDistance(t *testing.T) {
	near := Score(0.5, 1, 4.0, true, 45)
	far := Score(2.0, 4, 4.0, true, 45)
	if near <= far {
		t.Fatalf("nearer driver must score higher: near=%f far=%f", near, far)
	}
}

func TestScoreIncreasesWithRating(t *testing.T) {
	low := Score(1.0, 2, 3.0, true, 45)
	high := Score(1.0, 2, 5.0, true, 45)
	if high <= low {
		t.Fatalf("higher rating must score higher: low=%f high=%f", low, high)
	}
}

func TestScoreExactMatchBonus(t *testing.T) {
	exact := Score(1.0, 2, 4.0, true, 45)
	compat := Score(1.0, 2, 4.0, false, 45)
	if exact-compat < 0.099 || exact-compat > 0.101 {
		t.Fatalf("exact match bonus should be 0.1, got %f", exact-compat)
	}
}

func TestScoreDistanceFloor(t *testing.T) {
	// Below 0.3km the distance term saturates so a driver at the
	// rider's doorstep does not get an unbounded score.
	at := Score(0.01, 1, 4.0, true, 45)
	floor := Score(0.3, 1, 4.0, true, 45)
	if at != floor {
		t.Fatalf("sub-floor distances must clamp: %f vs %f", at, floor)
	}
}

// Closer driver with a lower rating beats a farther driver with a
// higher rating: proximity dominates at these weights.
func TestRankProximityBeatsRating(t *testing.T) {
	const pickupLat, pickupLng = 17.385, 78.487

	drivers := []presence.Driver{
		onlineDriver(2, pickupLat+0.018, pickupLng, 4.9, models.VehicleClassCar),  // ~2km
		onlineDriver(1, pickupLat+0.0045, pickupLng, 4.2, models.VehicleClassCar), // ~0.5km
	}

	ranked := rank(drivers, pickupLat, pickupLng, models.VehicleClassCar, time.Now())
	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].Driver.ID != 1 {
		t.Fatalf("expected nearer driver 1 first, got %d", ranked[0].Driver.ID)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Fatalf("expected strictly higher score first: %f vs %f", ranked[0].Score, ranked[1].Score)
	}
}

func TestRankFiltersUnmatchable(t *testing.T) {
	now := time.Now()
	stale := onlineDriver(1, 17.386, 78.487, 5, models.VehicleClassCar)
	stale.UpdatedAt = now.Add(-time.Minute)
	offline := onlineDriver(2, 17.386, 78.487, 5, models.VehicleClassCar)
	offline.Online = false
	busy := onlineDriver(3, 17.386, 78.487, 5, models.VehicleClassCar)
	busy.Available = false
	wrongClass := onlineDriver(4, 17.386, 78.487, 5, models.VehicleClassBike)
	ok := onlineDriver(5, 17.386, 78.487, 5, models.VehicleClassCar)

	ranked := rank([]presence.Driver{stale, offline, busy, wrongClass, ok},
		17.385, 78.487, models.VehicleClassCar, now)
	if len(ranked) != 1 || ranked[0].Driver.ID != 5 {
		t.Fatalf("expected only driver 5, got %+v", ranked)
	}
}

func TestRankSUVServesCarRequest(t *testing.T) {
	suv := onlineDriver(1, 17.386, 78.487, 5, models.VehicleClassSUV)
	ranked := rank([]presence.Driver{suv}, 17.385, 78.487, models.VehicleClassCar, time.Now())
	if len(ranked) != 1 {
		t.Fatalf("suv should serve a car request, got %d candidates", len(ranked))
	}
	if ranked[0].ExactMatch {
		t.Error("suv serving car is not an exact match")
	}

	// The reverse does not hold.
	car := onlineDriver(2, 17.386, 78.487, 5, models.VehicleClassCar)
	if got := rank([]presence.Driver{car}, 17.385, 78.487, models.VehicleClassSUV, time.Now()); len(got) != 0 {
		t.Fatalf("car must not serve an suv request, got %d candidates", len(got))
	}
}

func TestRankTieBreaksByDriverID(t *testing.T) {
	a := onlineDriver(9, 17.386, 78.487, 4.5, models.VehicleClassCar)
	b := onlineDriver(3, 17.386, 78.487, 4.5, models.VehicleClassCar)
	ranked := rank([]presence.Driver{a, b}, 17.385, 78.487, models.VehicleClassCar, time.Now())
	if len(ranked) != 2 || ranked[0].Driver.ID != 3 {
		t.Fatalf("equal scores must order by id, got %+v", ranked)
	}
}
