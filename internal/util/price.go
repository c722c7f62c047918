// Package util holds small shared helpers with no domain dependencies.
package util

import "math"

// NSETick is the minimum price increment for NSE option premiums.
const NSETick = 0.05

// RoundToTick rounds a price to the nearest multiple of tick.
// Invalid inputs (non-finite price, non-positive tick) pass through.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	return math.Round(price/tick) * tick
}

// FloorToTick rounds a price down to a multiple of tick. Used for limit
// sells so the order price never exceeds the observed quote.
func FloorToTick(price, tick float64) float64 {
	if tick <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	return math.Floor(price/tick) * tick
}

// CeilToTick rounds a price up to a multiple of tick.
func CeilToTick(price, tick float64) float64 {
	if tick <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return price
	}
	return math.Ceil(price/tick) * tick
}
