package models

import (
	"testing"
	"time"
)

func samplePosition() *Position {
	return NewPosition("p1", "NIFTY25SEP24500CE", 24500, OptionTypeCall,
		2, 75, 21.40, time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC))
}

func TestNewPositionInitializesExtremes(t *testing.T) {
	p := samplePosition()
	if p.State != StateOpen {
		t.Errorf("State = %v, want open", p.State)
	}
	if p.BestPriceSeen != 21.40 || p.WorstPriceSeen != 21.40 {
		t.Errorf("extremes = %v/%v, want both 21.40", p.BestPriceSeen, p.WorstPriceSeen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Position)
		wantErr bool
	}{
		{"valid", func(*Position) {}, false},
		{"missing symbol", func(p *Position) { p.Symbol = "" }, true},
		{"bad option type", func(p *Position) { p.OptionType = "XX" }, true},
		{"zero quantity", func(p *Position) { p.Quantity = 0 }, true},
		{"negative lot size", func(p *Position) { p.LotSize = -75 }, true},
		{"zero entry premium", func(p *Position) { p.EntryPremium = 0 }, true},
		{"zero premium but flagged for review", func(p *Position) {
			p.EntryPremium = 0
			p.NeedsReview = true
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePosition()
			tt.mutate(p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateTransitions(t *testing.T) {
	p := samplePosition()

	if err := p.TransitionState(StateClosed, "skip pending"); err == nil {
		t.Error("open -> closed should be rejected")
	}
	if err := p.TransitionState(StateExitPending, "stop loss"); err != nil {
		t.Fatalf("open -> exit_pending error = %v", err)
	}
	if err := p.TransitionState(StateOpen, "order rejected"); err != nil {
		t.Fatalf("exit_pending -> open error = %v", err)
	}
	if err := p.TransitionState(StateExitPending, "square off"); err != nil {
		t.Fatalf("re-entering exit_pending error = %v", err)
	}
	if err := p.TransitionState(StateClosed, "filled"); err != nil {
		t.Fatalf("exit_pending -> closed error = %v", err)
	}
	if p.ExitTime.IsZero() {
		t.Error("ExitTime should be stamped on close")
	}
	if err := p.TransitionState(StateOpen, "no way back"); err == nil {
		t.Error("closed is terminal")
	}
}

func TestReopenClearsExitReason(t *testing.T) {
	p := samplePosition()
	_ = p.TransitionState(StateExitPending, "stop loss")
	p.ExitReason = "STOP_LOSS"
	_ = p.TransitionState(StateOpen, "unfilled")
	if p.ExitReason != "" {
		t.Errorf("ExitReason = %q, want cleared on reopen", p.ExitReason)
	}
}

func TestHoldDurations(t *testing.T) {
	p := samplePosition()
	now := p.EntryTime.Add(4*time.Hour + 30*time.Minute)
	if got := p.HoursHeld(now); got != 4.5 {
		t.Errorf("HoursHeld = %v, want 4.5", got)
	}
	if got := p.MinutesHeld(now); got != 270 {
		t.Errorf("MinutesHeld = %v, want 270", got)
	}
}

func TestTotalShares(t *testing.T) {
	if got := samplePosition().TotalShares(); got != 150 {
		t.Errorf("TotalShares = %d, want 150 (2 lots x 75)", got)
	}
}

func TestObservePrice(t *testing.T) {
	p := samplePosition()
	p.ObservePrice(30)
	p.ObservePrice(15)
	p.ObservePrice(0) // ignored
	p.ObservePrice(-5)

	if p.BestPriceSeen != 30 {
		t.Errorf("BestPriceSeen = %v, want 30", p.BestPriceSeen)
	}
	if p.WorstPriceSeen != 15 {
		t.Errorf("WorstPriceSeen = %v, want 15", p.WorstPriceSeen)
	}
}
