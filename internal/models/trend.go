package models

import (
	"math"
	"time"
)

// Candle is one OHLC bar of the underlying index.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume,omitempty"`
}

// IsBullish returns true for a green candle (close above open).
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// BodyRatio returns the candle body as a fraction of its full range,
// in [0, 1]. A doji or zero-range candle returns 0.
func (c Candle) BodyRatio() float64 {
	r := c.High - c.Low
	if r <= 0 {
		return 0
	}
	return math.Abs(c.Close-c.Open) / r
}

// IsStrongBearish reports a red candle whose body covers at least 70% of
// its range, the confirmation bar used for reversal exits.
func (c Candle) IsStrongBearish() bool {
	return !c.IsBullish() && c.Close != c.Open && c.BodyRatio() >= 0.70
}

// TrendSnapshot is the minimal market-trend state consumed by the
// reversal-confirmation logic. It is immutable once built.
type TrendSnapshot struct {
	UnderlyingPrice float64   `json:"underlying_price"`
	TrendReference  float64   `json:"trend_reference"`
	Candle          Candle    `json:"candle"`
	At              time.Time `json:"at"`
}

// Valid reports whether the snapshot carries usable data.
func (t TrendSnapshot) Valid() bool {
	return t.UnderlyingPrice > 0 && t.TrendReference > 0
}

// UnfavourableFor reports whether the underlying sits on the wrong side of
// the trend reference for the given option side: below it for a call,
// above it for a put.
func (t TrendSnapshot) UnfavourableFor(optType OptionType) bool {
	if !t.Valid() {
		return false
	}
	switch optType {
	case OptionTypeCall:
		return t.UnderlyingPrice < t.TrendReference
	case OptionTypePut:
		return t.UnderlyingPrice > t.TrendReference
	default:
		return false
	}
}

// BreakMagnitudePct returns how far the underlying has broken away from the
// trend reference, as a percentage of the reference level.
func (t TrendSnapshot) BreakMagnitudePct() float64 {
	if t.TrendReference <= 0 {
		return 0
	}
	return math.Abs(t.UnderlyingPrice-t.TrendReference) / t.TrendReference * 100
}
