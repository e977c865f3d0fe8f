package utils

import (
	"math"
)

// FareCalculationResult contains the calculated fare and breakdown
type FareCalculationResult struct {
	TotalFare    float64       `json:"totalFare"`
	Distance     float64       `json:"distance"`
	RatePerKm    float64       `json:"ratePerKm"`
	MinimumFare  float64       `json:"minimumFare"`
	VehicleClass string        `json:"vehicleClass"`
	Breakdown    FareBreakdown `json:"breakdown"`
}

// FareBreakdown provides detailed fare breakdown
type FareBreakdown struct {
	BaseFare     float64 `json:"baseFare"`
	DistanceFare float64 `json:"distanceFare"`
	Total        float64 `json:"total"`
}

// Rates in INR. Per-class base fare and per-km rate, with a minimum
// fare applied for short hops.
const (
	MinimumFareDistance = 2.0 // Distance threshold for minimum fare in km
)

type classRate struct {
	baseFare    float64
	ratePerKm   float64
	minimumFare float64
}

var classRates = map[string]classRate{
	"bike": {baseFare: 15, ratePerKm: 8, minimumFare: 30},
	"auto": {baseFare: 25, ratePerKm: 12, minimumFare: 45},
	"car":  {baseFare: 45, ratePerKm: 16, minimumFare: 80},
	"suv":  {baseFare: 65, ratePerKm: 22, minimumFare: 120},
}

// BaseFareForClass returns the flagfall for a vehicle class. Unknown
// classes fall back to the car rate.
func BaseFareForClass(vehicleClass string) float64 {
	return ratesFor(vehicleClass).baseFare
}

func ratesFor(vehicleClass string) classRate {
	if r, ok := classRates[vehicleClass]; ok {
		return r
	}
	return classRates["car"]
}

// CalculateFare calculates the fare for a trip of the given distance in
// the given vehicle class. The result is what gets frozen on the ride
// record at creation time.
func CalculateFare(distanceKm float64, vehicleClass string) FareCalculationResult {
	rates := ratesFor(vehicleClass)

	distanceFare := distanceKm * rates.ratePerKm
	totalFare := rates.baseFare + distanceFare

	// Apply minimum fare for short trips
	if distanceKm <= MinimumFareDistance || totalFare < rates.minimumFare {
		if totalFare < rates.minimumFare {
			totalFare = rates.minimumFare
		}
	}

	// Round to 2 decimal places
	totalFare = math.Round(totalFare*100) / 100

	return FareCalculationResult{
		TotalFare:    totalFare,
		Distance:     math.Round(distanceKm*100) / 100,
		RatePerKm:    rates.ratePerKm,
		MinimumFare:  rates.minimumFare,
		VehicleClass: vehicleClass,
		Breakdown: FareBreakdown{
			BaseFare:     rates.baseFare,
			DistanceFare: math.Round(distanceFare*100) / 100,
			Total:        totalFare,
		},
	}
}
