package trend

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

func flatCandles(n int, close float64) []models.Candle {
	candles := make([]models.Candle, n)
	base := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      close, High: close, Low: close, Close: close,
		}
	}
	return candles
}

func TestSMA(t *testing.T) {
	candles := flatCandles(9, 100)
	candles[8].Close = 109 // closes: 8x100 + 109

	got := SMA(candles, 9)
	want := (8*100.0 + 109.0) / 9
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SMA = %v, want %v", got, want)
	}
}

func TestSMAInsufficientHistory(t *testing.T) {
	if got := SMA(flatCandles(5, 100), 9); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
	if got := EMA(flatCandles(5, 100), 9); got != 0 {
		t.Errorf("EMA with short history = %v, want 0", got)
	}
	if got := Reference(flatCandles(5, 100), 9); got != 0 {
		t.Errorf("Reference with short history = %v, want 0", got)
	}
}

func TestEMAFlatSeriesEqualsClose(t *testing.T) {
	if got := EMA(flatCandles(30, 250), 9); math.Abs(got-250) > 1e-9 {
		t.Errorf("EMA of flat series = %v, want 250", got)
	}
}

func TestEMATracksRecentCloses(t *testing.T) {
	// Step change: EMA should sit between the old and new levels,
	// closer to the new one than the SMA over the same window.
	candles := flatCandles(30, 100)
	for i := 20; i < 30; i++ {
		candles[i].Close = 200
	}
	ema := EMA(candles, 9)
	if ema <= 100 || ema >= 200 {
		t.Fatalf("EMA = %v, want inside (100, 200)", ema)
	}
	if ema < 190 {
		t.Errorf("EMA = %v, expected to converge near 200 after 10 bars", ema)
	}
}

func TestReferenceBlendsEMAAndSMA(t *testing.T) {
	candles := flatCandles(30, 100)
	for i := 25; i < 30; i++ {
		candles[i].Close = 110
	}
	e, s := EMA(candles, 9), SMA(candles, 9)
	want := (e + s) / 2
	if got := Reference(candles, 9); math.Abs(got-want) > 1e-9 {
		t.Errorf("Reference = %v, want %v", got, want)
	}
}

type stubSource struct {
	price   float64
	candles []models.Candle
	err     error
}

func (s *stubSource) FetchUnderlyingPrice(_ context.Context) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.price, nil
}

func (s *stubSource) FetchUnderlyingCandles(_ context.Context, _ int) ([]models.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

func TestBuildSnapshot(t *testing.T) {
	src := &stubSource{price: 24480, candles: flatCandles(30, 24500)}
	b := NewBuilder(src, 9, 30)

	snap, err := b.BuildSnapshot(context.Background())
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}
	if !snap.Valid() {
		t.Fatal("expected valid snapshot")
	}
	if math.Abs(snap.TrendReference-24500) > 1e-6 {
		t.Errorf("TrendReference = %v, want 24500", snap.TrendReference)
	}
	if !snap.UnfavourableFor(models.OptionTypeCall) {
		t.Error("spot below reference should be unfavourable for a call")
	}
	if snap.UnfavourableFor(models.OptionTypePut) {
		t.Error("spot below reference should be favourable for a put")
	}
}

func TestBuildSnapshotShortHistoryIsInvalid(t *testing.T) {
	src := &stubSource{price: 24480, candles: flatCandles(4, 24500)}
	b := NewBuilder(src, 9, 30)

	snap, err := b.BuildSnapshot(context.Background())
	if err != nil {
		t.Fatalf("BuildSnapshot() error = %v", err)
	}
	if snap.Valid() {
		t.Error("snapshot with short history should be invalid")
	}
}

func TestBuildSnapshotPropagatesError(t *testing.T) {
	src := &stubSource{err: errors.New("down")}
	b := NewBuilder(src, 9, 30)
	if _, err := b.BuildSnapshot(context.Background()); err == nil {
		t.Error("BuildSnapshot() = nil, want error")
	}
}
