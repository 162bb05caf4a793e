// Package eta estimates delivery durations. Estimates are informational and
// never gate order acceptance.
package eta

import "math"

const (
	// PreparationMinutes covers picking and packing.
	PreparationMinutes = 10
	// MinutesPerKm assumes roughly 20 km/h in city traffic.
	MinutesPerKm = 3.0
	// LoadMinutesPerUnit is added per pending order per driver above one.
	LoadMinutesPerUnit = 5.0
	// MaxLoadMinutes caps the load penalty.
	MaxLoadMinutes = 30
	// BusyRatio flags the shop as busy above this many pending orders per driver.
	BusyRatio = 3.0
)

// Estimate is an itemised delivery duration.
type Estimate struct {
	Minutes      int  `json:"minutes"`
	DistanceTime int  `json:"distance_time"`
	LoadTime     int  `json:"load_time"`
	IsBusy       bool `json:"is_busy"`
}

// ComputeETA estimates minutes until delivery. Negative or non-finite
// distances count as zero.
func ComputeETA(distanceKm float64, pendingOrders, activeDrivers int) Estimate {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		distanceKm = 0
	}
	drivers := activeDrivers
	if drivers < 1 {
		drivers = 1
	}
	ratio := float64(pendingOrders) / float64(drivers)

	e := Estimate{
		DistanceTime: int(math.Ceil(distanceKm * MinutesPerKm)),
		IsBusy:       ratio > BusyRatio,
	}
	if ratio > 1 {
		e.LoadTime = int(math.Ceil((ratio - 1) * LoadMinutesPerUnit))
		if e.LoadTime > MaxLoadMinutes {
			e.LoadTime = MaxLoadMinutes
		}
	}
	e.Minutes = PreparationMinutes + e.DistanceTime + e.LoadTime
	return e
}
