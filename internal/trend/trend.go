// Package trend derives the market-trend snapshot consumed by the
// reversal exit logic: a blended moving-average reference line and the
// latest confirmation candle.
package trend

import (
	"context"
	"fmt"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// CandleSource is the slice of the broker the trend builder depends on.
type CandleSource interface {
	FetchUnderlyingPrice(ctx context.Context) (float64, error)
	FetchUnderlyingCandles(ctx context.Context, count int) ([]models.Candle, error)
}

// SMA returns the simple moving average of the last period closes.
// Returns 0 when there are fewer candles than the period.
func SMA(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average of the closes, seeded with
// the SMA of the first period candles. Returns 0 when there are fewer
// candles than the period.
func EMA(candles []models.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}
	ema := SMA(candles[:period], period)
	k := 2.0 / float64(period+1)
	for _, c := range candles[period:] {
		ema = c.Close*k + ema*(1-k)
	}
	return ema
}

// Reference blends EMA and SMA into the trend line the exit rules
// compare the spot against.
func Reference(candles []models.Candle, period int) float64 {
	e := EMA(candles, period)
	s := SMA(candles, period)
	if e == 0 || s == 0 {
		return 0
	}
	return (e + s) / 2
}

// Builder assembles trend snapshots from broker data.
type Builder struct {
	source      CandleSource
	period      int
	candleCount int
}

// NewBuilder creates a snapshot builder.
func NewBuilder(source CandleSource, period, candleCount int) *Builder {
	if period <= 0 {
		period = 9
	}
	if candleCount < period {
		candleCount = period * 3
	}
	return &Builder{source: source, period: period, candleCount: candleCount}
}

// BuildSnapshot fetches the spot and recent candles and computes the
// trend reference. The returned snapshot is invalid (but not an error
// path for exits) when history is too short for the configured period.
func (b *Builder) BuildSnapshot(ctx context.Context) (models.TrendSnapshot, error) {
	price, err := b.source.FetchUnderlyingPrice(ctx)
	if err != nil {
		return models.TrendSnapshot{}, fmt.Errorf("fetching underlying price: %w", err)
	}

	candles, err := b.source.FetchUnderlyingCandles(ctx, b.candleCount)
	if err != nil {
		return models.TrendSnapshot{}, fmt.Errorf("fetching candles: %w", err)
	}

	snap := models.TrendSnapshot{
		UnderlyingPrice: price,
		TrendReference:  Reference(candles, b.period),
	}
	if len(candles) > 0 {
		last := candles[len(candles)-1]
		snap.Candle = last
		snap.At = last.Timestamp
	}
	return snap, nil
}
