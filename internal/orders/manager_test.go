package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/models"
	"github.com/astrarise/nifty-options-bot/internal/storage"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type stubPlacer struct {
	placeErr   error
	status     broker.OrderStatus
	statusErr  error
	placedQty  int
	placedPx   float64
	placeCalls int
}

func (s *stubPlacer) PlaceSellOrder(_ context.Context, _ string, qty int, px float64) (string, error) {
	s.placeCalls++
	if s.placeErr != nil {
		return "", s.placeErr
	}
	s.placedQty = qty
	s.placedPx = px
	return "ORD-1", nil
}

func (s *stubPlacer) GetOrderStatus(_ context.Context, _ string) (broker.OrderStatus, error) {
	if s.statusErr != nil {
		return broker.OrderStatus{}, s.statusErr
	}
	return s.status, nil
}

type recordingNotifier struct {
	triggered, filled, failed int
}

func (r *recordingNotifier) ExitTriggered(models.Position, models.ExitDecision) { r.triggered++ }
func (r *recordingNotifier) ExitFilled(models.Position, float64)                { r.filled++ }
func (r *recordingNotifier) ExitFailed(models.Position, error)                  { r.failed++ }

func fixture(t *testing.T, placer *stubPlacer) (*Manager, *tracker.Tracker,
	*storage.MockStore, *recordingNotifier, models.Position) {
	t.Helper()

	tr := tracker.New(quietLogger())
	pos := models.NewPosition("p1", "NIFTY25SEP24500CE", 24500,
		models.OptionTypeCall, 1, 75, 21.40, time.Now().Add(-time.Hour))
	if err := tr.Add(pos); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	store := storage.NewMockStore()
	notifier := &recordingNotifier{}

	m := NewManager(placer, tr, store, notifier, quietLogger())
	m.SetFillPolling(time.Millisecond, 50*time.Millisecond)
	return m, tr, store, notifier, *pos
}

func decision(reason models.ExitReason, premium float64) models.ExitDecision {
	return models.ExitDecision{
		Triggered:      true,
		Reason:         reason,
		CurrentPremium: premium,
		PremiumKnown:   premium > 0,
		EvaluatedAt:    time.Now(),
	}
}

func TestExecuteExitHappyPath(t *testing.T) {
	placer := &stubPlacer{status: broker.OrderStatus{
		OrderID: "ORD-1", Status: "complete", FilledQuantity: 75, AveragePrice: 32.10,
	}}
	m, tr, store, notifier, pos := fixture(t, placer)

	err := m.ExecuteExit(context.Background(), pos, decision(models.ExitReasonProfitTarget, 32.10))
	if err != nil {
		t.Fatalf("ExecuteExit() error = %v", err)
	}

	if tr.Count() != 0 {
		t.Errorf("position still tracked after confirmed fill")
	}
	if placer.placedQty != 75 {
		t.Errorf("placed quantity = %d, want 75 shares", placer.placedQty)
	}
	data, _ := store.Load()
	if len(data.History) != 1 || data.History[0].ExitReason != "PROFIT_TARGET" {
		t.Errorf("history = %+v, want one PROFIT_TARGET trade", data.History)
	}
	if notifier.triggered != 1 || notifier.filled != 1 || notifier.failed != 0 {
		t.Errorf("notifier counts = %+v", notifier)
	}
}

func TestExecuteExitPlaceFailureRollsBack(t *testing.T) {
	placer := &stubPlacer{placeErr: errors.New("rejected by risk checks")}
	m, tr, store, notifier, pos := fixture(t, placer)

	err := m.ExecuteExit(context.Background(), pos, decision(models.ExitReasonStopLoss, 14.98))
	if err == nil {
		t.Fatal("ExecuteExit() = nil, want error")
	}

	got, ok := tr.Get(pos.ID)
	if !ok || got.State != models.StateOpen {
		t.Errorf("position state = %+v, want rolled back to open", got)
	}
	if data, _ := store.Load(); len(data.History) != 0 {
		t.Error("history must not record a failed exit")
	}
	if notifier.failed != 1 {
		t.Errorf("failed notifications = %d, want 1", notifier.failed)
	}
}

func TestExecuteExitRejectedOrderRollsBack(t *testing.T) {
	placer := &stubPlacer{status: broker.OrderStatus{OrderID: "ORD-1", Status: "rejected"}}
	m, tr, _, _, pos := fixture(t, placer)

	if err := m.ExecuteExit(context.Background(), pos, decision(models.ExitReasonStopLoss, 14.98)); err == nil {
		t.Fatal("ExecuteExit() = nil, want error for rejected order")
	}
	got, _ := tr.Get(pos.ID)
	if got.State != models.StateOpen {
		t.Errorf("state = %v, want open after rejection", got.State)
	}
}

func TestExecuteExitTimeoutRollsBack(t *testing.T) {
	placer := &stubPlacer{status: broker.OrderStatus{OrderID: "ORD-1", Status: "open"}}
	m, tr, _, _, pos := fixture(t, placer)

	if err := m.ExecuteExit(context.Background(), pos, decision(models.ExitReasonSquareOff, 20)); err == nil {
		t.Fatal("ExecuteExit() = nil, want timeout error")
	}
	got, _ := tr.Get(pos.ID)
	if got.State != models.StateOpen {
		t.Errorf("state = %v, want open after fill timeout", got.State)
	}
}

func TestExecuteExitLimitPriceOnTick(t *testing.T) {
	placer := &stubPlacer{status: broker.OrderStatus{
		OrderID: "ORD-1", Status: "complete", FilledQuantity: 75, AveragePrice: 32.08,
	}}
	m, _, _, _, pos := fixture(t, placer)

	// 32.08 is not a tick multiple; the limit must floor to 32.05.
	if err := m.ExecuteExit(context.Background(), pos, decision(models.ExitReasonProfitTarget, 32.08)); err != nil {
		t.Fatalf("ExecuteExit() error = %v", err)
	}
	if placer.placedPx < 32.049 || placer.placedPx > 32.051 {
		t.Errorf("limit price = %v, want 32.05", placer.placedPx)
	}
}

func TestExecuteExitWithoutPremiumUsesWorstSeen(t *testing.T) {
	placer := &stubPlacer{status: broker.OrderStatus{
		OrderID: "ORD-1", Status: "complete", FilledQuantity: 75, AveragePrice: 18.0,
	}}
	m, tr, _, _, pos := fixture(t, placer)
	tr.ObservePremium(pos.ID, 18.30, time.Now())
	pos, _ = tr.Get(pos.ID)

	d := decision(models.ExitReasonSquareOff, 0)
	if err := m.ExecuteExit(context.Background(), pos, d); err != nil {
		t.Fatalf("ExecuteExit() error = %v", err)
	}
	// Floored to a tick at or just below the worst premium seen.
	if placer.placedPx < 18.24 || placer.placedPx > 18.31 {
		t.Errorf("limit price = %v, want near worst seen 18.30", placer.placedPx)
	}
}
