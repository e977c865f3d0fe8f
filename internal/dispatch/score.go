package dispatch

import (
	"math"
	"sort"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

// Scoring weights for candidate ranking. Proximity dominates, then
// ETA, then rating, with small bonuses for an exact vehicle-class
// match and a cheaper vehicle class.
const (
	weightDistance = 0.4
	weightETA      = 0.3
	weightRating   = 0.2
	weightExact    = 0.1
	weightPrice    = 0.05

	minScoreDistanceKm = 0.3
	minScoreETAMin     = 1.0
)

// Candidate is a scored driver under consideration for a ride.
type Candidate struct {
	Driver     presence.Driver
	DistanceKm float64
	ETAMin     float64
	ExactMatch bool
	Score      float64
}

// Score computes the composite desirability of a candidate. Higher is
// better. Monotonically decreasing in distance and ETA, increasing in
// rating.
func Score(distanceKm, etaMin, rating float64, exactMatch bool, baseFare float64) float64 {
	if etaMin <= 0 {
		etaMin = math.Round(distanceKm * 3) // fallback estimate
	}
	score := (1/math.Max(minScoreDistanceKm, distanceKm))*weightDistance +
		(1/math.Max(minScoreETAMin, etaMin))*weightETA +
		(rating/5)*weightRating +
		(1/math.Max(1, baseFare))*weightPrice
	if exactMatch {
		score += weightExact
	}
	return score
}

// classCompatible reports whether a driver's vehicle class can serve a
// requested class. Exact matches always qualify; an SUV may serve a
// car request.
func classCompatible(requested, offered string) bool {
	if requested == offered {
		return true
	}
	return requested == "car" && offered == "suv"
}

// rank filters and orders drivers for a request. Stale, offline,
// unavailable and class-incompatible drivers are silently excluded.
// The result is a total order: ties break by driver id.
func rank(drivers []presence.Driver, pickupLat, pickupLng float64, vehicleClass string, now time.Time) []Candidate {
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Online || !d.Available || !d.Fresh(now) {
			continue
		}
		if !classCompatible(vehicleClass, d.VehicleClass) {
			continue
		}
		dist := utils.HaversineDistance(pickupLat, pickupLng, d.Lat, d.Lng)
		eta := float64(utils.CalculateETA(dist, 30))
		exact := d.VehicleClass == vehicleClass
		out = append(out, Candidate{
			Driver:     d,
			DistanceKm: dist,
			ETAMin:     eta,
			ExactMatch: exact,
			Score:      Score(dist, eta, d.Rating, exact, utils.BaseFareForClass(vehicleClass)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	return out
}
