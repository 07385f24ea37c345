// Package energy derives the per-interval energy metric from
// instantaneous power, plus the small unit conversions used around it.
package energy

import (
	"math"
	"time"
)

// IntervalEnergyWh converts instantaneous active power into the energy
// consumed over one poll interval, in watt-hours, rounded to 5 decimals.
//
// This is a zero-order hold: power is treated as constant for the whole
// interval. It approximates the integral of power over time and is the
// largest source of truncation error in the derived data.
func IntervalEnergyWh(activePowerW float64, interval time.Duration) float64 {
	return RoundPlaces(activePowerW*interval.Seconds()/3600.0, 5)
}

// RoundPlaces rounds v to the given number of decimal places.
func RoundPlaces(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func WhToKwh(wh float64) float64 {
	return wh / 1000
}

func KwhToWh(kwh float64) float64 {
	return kwh * 1000
}
