// Package models defines the core domain types for the intraday options
// exit engine: positions, exit decisions and market trend snapshots.
package models

import (
	"fmt"
	"time"
)

// OptionType identifies the side of an option contract using the NSE
// trading-symbol suffix convention.
type OptionType string

const (
	// OptionTypeCall is a call option (CE suffix).
	OptionTypeCall OptionType = "CE"
	// OptionTypePut is a put option (PE suffix).
	OptionTypePut OptionType = "PE"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	switch t {
	case OptionTypeCall, OptionTypePut:
		return true
	default:
		return false
	}
}

// PositionState is the lifecycle state of a tracked position.
type PositionState string

const (
	// StateOpen means the position is held and evaluated every tick.
	StateOpen PositionState = "open"
	// StateExitPending means an exit order has been submitted but not yet
	// confirmed filled. The position stays tracked until confirmation.
	StateExitPending PositionState = "exit_pending"
	// StateClosed means the exit order filled and the position is done.
	StateClosed PositionState = "closed"
)

// validTransitions maps each state to the states reachable from it.
// An exit that fails to fill goes back to open for re-evaluation.
var validTransitions = map[PositionState][]PositionState{
	StateOpen:        {StateExitPending},
	StateExitPending: {StateOpen, StateClosed},
	StateClosed:      {},
}

// Position is an open long option trade tracked by the engine.
type Position struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	StrikePrice   int           `json:"strike_price"`
	OptionType    OptionType    `json:"option_type"`
	Quantity      int           `json:"quantity"` // lots, always positive
	LotSize       int           `json:"lot_size"` // shares per lot
	EntryPremium  float64       `json:"entry_premium"`
	EntryTime     time.Time     `json:"entry_time"`
	State         PositionState `json:"state"`
	ExitReason    string        `json:"exit_reason,omitempty"`
	ExitTime      time.Time     `json:"exit_time,omitempty"`
	BestPriceSeen float64       `json:"best_price_seen"`
	WorstPriceSeen float64      `json:"worst_price_seen"`
	// ConfirmationCount is the run of consecutive unfavourable trend
	// observations. Reset to zero on any favourable tick.
	ConfirmationCount int `json:"confirmation_count"`
	// Recovered marks positions rebuilt from the broker's position list
	// after a restart. Their EntryTime is approximate (recovery time).
	Recovered   bool      `json:"recovered,omitempty"`
	NeedsReview bool      `json:"needs_review,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// NewPosition creates an open position with initialized price extremes.
func NewPosition(id, symbol string, strike int, optType OptionType,
	quantity, lotSize int, entryPremium float64, entryTime time.Time) *Position {
	return &Position{
		ID:             id,
		Symbol:         symbol,
		StrikePrice:    strike,
		OptionType:     optType,
		Quantity:       quantity,
		LotSize:        lotSize,
		EntryPremium:   entryPremium,
		EntryTime:      entryTime,
		State:          StateOpen,
		BestPriceSeen:  entryPremium,
		WorstPriceSeen: entryPremium,
	}
}

// Validate checks the position invariants: positive quantity, lot size and
// entry premium, and a recognized option type.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position %s: symbol is required", p.ID)
	}
	if !p.OptionType.Valid() {
		return fmt.Errorf("position %s: invalid option type %q", p.ID, p.OptionType)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be > 0 (got %d)", p.ID, p.Quantity)
	}
	if p.LotSize <= 0 {
		return fmt.Errorf("position %s: lot size must be > 0 (got %d)", p.ID, p.LotSize)
	}
	// A review-flagged position is allowed to carry a broken entry premium;
	// it stays tracked but is never auto-evaluated.
	if p.EntryPremium <= 0 && !p.NeedsReview {
		return fmt.Errorf("position %s: entry premium must be > 0 (got %.2f)", p.ID, p.EntryPremium)
	}
	return nil
}

// TransitionState moves the position to a new lifecycle state, rejecting
// transitions the lifecycle does not allow.
func (p *Position) TransitionState(to PositionState, condition string) error {
	for _, allowed := range validTransitions[p.State] {
		if allowed == to {
			p.State = to
			if to == StateClosed && p.ExitTime.IsZero() {
				p.ExitTime = time.Now()
			}
			if to == StateOpen {
				// Re-opened after a failed exit; clear the stale reason.
				p.ExitReason = ""
			}
			return nil
		}
	}
	return fmt.Errorf("position %s: invalid transition %s -> %s (%s)",
		p.ID, p.State, to, condition)
}

// HoursHeld returns the time held in fractional hours as of now.
func (p *Position) HoursHeld(now time.Time) float64 {
	return now.Sub(p.EntryTime).Hours()
}

// MinutesHeld returns the time held in fractional minutes as of now.
func (p *Position) MinutesHeld(now time.Time) float64 {
	return now.Sub(p.EntryTime).Minutes()
}

// TotalShares returns the number of underlying shares the position controls.
func (p *Position) TotalShares() int {
	return p.Quantity * p.LotSize
}

// ObservePrice updates the best/worst premium extremes from a fresh quote.
func (p *Position) ObservePrice(premium float64) {
	if premium <= 0 {
		return
	}
	if premium > p.BestPriceSeen {
		p.BestPriceSeen = premium
	}
	if p.WorstPriceSeen == 0 || premium < p.WorstPriceSeen {
		p.WorstPriceSeen = premium
	}
}
