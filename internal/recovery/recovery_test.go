package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/models"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type stubSource struct {
	positions []broker.RawPosition
	err       error
}

func (s *stubSource) FetchPositions(_ context.Context) ([]broker.RawPosition, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.positions, nil
}

func TestParseOptionSymbol(t *testing.T) {
	tests := []struct {
		symbol     string
		wantStrike int
		wantType   models.OptionType
		wantOK     bool
	}{
		{"NIFTY25SEP24500CE", 24500, models.OptionTypeCall, true},
		{"NIFTY25SEP23850PE", 23850, models.OptionTypePut, true},
		{"NIFTY25O0724500CE", 24500, models.OptionTypeCall, true},
		{"RELIANCE", 0, "", false},
		{"NIFTY25SEPFUT", 0, "", false},
		{"NIFTY25SEP500CE", 0, "", false}, // strike too short
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			strike, optType, ok := ParseOptionSymbol(tt.symbol)
			if ok != tt.wantOK || strike != tt.wantStrike || optType != tt.wantType {
				t.Errorf("ParseOptionSymbol(%q) = (%d, %q, %v), want (%d, %q, %v)",
					tt.symbol, strike, optType, ok, tt.wantStrike, tt.wantType, tt.wantOK)
			}
		})
	}
}

func TestRecoverFiltersAndParses(t *testing.T) {
	now := time.Date(2025, 9, 1, 9, 20, 0, 0, time.UTC)
	src := &stubSource{positions: []broker.RawPosition{
		{TradingSymbol: "NIFTY25SEP24500CE", Quantity: 75, AveragePrice: 21.40},
		{TradingSymbol: "NIFTY25SEP24300PE", Quantity: 150, AveragePrice: 35.00},
		{TradingSymbol: "NIFTY25SEP24600CE", Quantity: -75, AveragePrice: 12.00}, // short
		{TradingSymbol: "BANKNIFTY25SEP51000CE", Quantity: 30, AveragePrice: 99.0},
		{TradingSymbol: "RELIANCE", Quantity: 10, AveragePrice: 2900},
		{TradingSymbol: "NIFTY25SEP24700CE", Quantity: 40, AveragePrice: 9.0}, // partial lot
	}}
	tr := tracker.New(quietLogger())
	l := NewLoader(src, tr, nil, "NIFTY", 75, quietLogger())

	n, err := l.Recover(context.Background(), now)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Recover() = %d, want 2", n)
	}

	open := tr.ListOpen()
	if len(open) != 2 {
		t.Fatalf("tracked = %d, want 2", len(open))
	}
	for _, pos := range open {
		if !pos.Recovered {
			t.Errorf("position %s not marked recovered", pos.Symbol)
		}
		if !pos.EntryTime.Equal(now) {
			t.Errorf("EntryTime = %v, want recovery time %v", pos.EntryTime, now)
		}
	}

	byLots := map[string]int{}
	for _, pos := range open {
		byLots[pos.Symbol] = pos.Quantity
	}
	if byLots["NIFTY25SEP24500CE"] != 1 || byLots["NIFTY25SEP24300PE"] != 2 {
		t.Errorf("lot conversion wrong: %v", byLots)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	src := &stubSource{positions: []broker.RawPosition{
		{TradingSymbol: "NIFTY25SEP24500CE", Quantity: 75, AveragePrice: 21.40},
	}}
	tr := tracker.New(quietLogger())
	lg := ledger.New(time.UTC, quietLogger())
	l := NewLoader(src, tr, lg, "NIFTY", 75, quietLogger())

	now := time.Now()
	if n, err := l.Recover(context.Background(), now); err != nil || n != 1 {
		t.Fatalf("first Recover() = %d, %v; want 1, nil", n, err)
	}
	if n, err := l.Recover(context.Background(), now.Add(time.Minute)); err != nil || n != 0 {
		t.Errorf("second Recover() = %d, %v; want 0, nil", n, err)
	}
	if tr.Count() != 1 {
		t.Errorf("tracked = %d after double recovery, want 1", tr.Count())
	}
	// The recovered intraday position counts as today's entry, once.
	if got := lg.CountToday(now); got != 1 {
		t.Errorf("ledger entries = %d after double recovery, want 1", got)
	}
}

func TestRecoverFlagsMissingEntryPremium(t *testing.T) {
	src := &stubSource{positions: []broker.RawPosition{
		{TradingSymbol: "NIFTY25SEP24500CE", Quantity: 75, AveragePrice: 0},
	}}
	tr := tracker.New(quietLogger())
	l := NewLoader(src, tr, nil, "NIFTY", 75, quietLogger())

	n, err := l.Recover(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Recover() = %d, want 1", n)
	}

	open := tr.ListOpen()
	if len(open) != 1 || !open[0].NeedsReview {
		t.Errorf("expected tracked position flagged for review, got %+v", open)
	}
}

func TestRecoverPropagatesBrokerError(t *testing.T) {
	src := &stubSource{err: errors.New("down")}
	tr := tracker.New(quietLogger())
	l := NewLoader(src, tr, nil, "NIFTY", 75, quietLogger())

	if _, err := l.Recover(context.Background(), time.Now()); err == nil {
		t.Error("Recover() = nil, want error")
	}
}
