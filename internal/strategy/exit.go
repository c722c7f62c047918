// Package strategy implements the ordered exit rules applied to every
// open position on each evaluation tick.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// ErrInvalidEntryPremium marks a position whose recorded entry premium
// is non-positive. P&L cannot be computed; the position must be flagged
// for manual review instead of being auto-exited.
var ErrInvalidEntryPremium = errors.New("entry premium must be positive")

// PremiumSource serves already-fetched premiums; implementations must
// not trigger network calls, so every position in a tick sees the same
// market snapshot.
type PremiumSource interface {
	GetPremium(strike int, optType models.OptionType) (float64, bool)
}

// Params are the exit rule thresholds. Percentage thresholds are
// positive magnitudes; the stop loss compares against the negated value.
type Params struct {
	StopLossPct        float64
	ProfitTargetPct    float64
	MaxHoldHours       float64
	SoftHoldHours      float64
	SoftProfitFloorPct float64

	RequiredConfirmations int
	MinTrendBreakPct      float64
	MinHoldMinutes        float64

	MinViablePremium float64
}

// DefaultParams returns the standard thresholds for weekly NIFTY options.
func DefaultParams() Params {
	return Params{
		StopLossPct:           30,
		ProfitTargetPct:       50,
		MaxHoldHours:          6,
		SoftHoldHours:         4,
		SoftProfitFloorPct:    10,
		RequiredConfirmations: 3,
		MinTrendBreakPct:      2.0,
		MinHoldMinutes:        15,
		MinViablePremium:      2.0,
	}
}

// Evaluator applies the exit rules in a fixed priority order. It holds
// no mutable state: given the same inputs it returns the same decision,
// which keeps a tick's decisions reproducible from its logs.
type Evaluator struct {
	params      Params
	squareOffAt func(now time.Time) time.Time
}

// NewEvaluator creates an evaluator. squareOffAt maps a tick time to the
// mandatory intraday close instant for that trading day.
func NewEvaluator(params Params, squareOffAt func(now time.Time) time.Time) *Evaluator {
	return &Evaluator{params: params, squareOffAt: squareOffAt}
}

// pnl computes per-share and percentage P&L with exact decimal
// arithmetic, so inclusive thresholds behave predictably at boundaries
// like a 21.40 entry reaching exactly 32.10.
func pnl(entry, current float64) (perShare, pct float64) {
	e := decimal.NewFromFloat(entry)
	c := decimal.NewFromFloat(current)
	diff := c.Sub(e)
	perShare, _ = diff.Float64()
	pct, _ = diff.Div(e).Mul(decimal.NewFromInt(100)).Float64()
	return perShare, pct
}

// Evaluate runs the rules against one position and returns the first
// match. The position's confirmation counter must already reflect the
// current trend snapshot.
//
// Rule order: stop loss, profit target, hard time limit, soft time
// limit, confirmed trend reversal, low premium, forced square-off.
// Premium-dependent rules are skipped when the premium is unavailable;
// time rules and the square-off still apply.
func (e *Evaluator) Evaluate(pos models.Position, quotes PremiumSource,
	trend models.TrendSnapshot, tradesToday int, now time.Time) (models.ExitDecision, error) {

	decision := models.ExitDecision{
		Reason:      models.ExitReasonNone,
		TradesToday: tradesToday,
		EvaluatedAt: now,
	}

	if pos.EntryPremium <= 0 {
		return decision, fmt.Errorf("position %s: %w (got %.2f)",
			pos.ID, ErrInvalidEntryPremium, pos.EntryPremium)
	}

	premium, known := quotes.GetPremium(pos.StrikePrice, pos.OptionType)
	if known {
		decision.CurrentPremium = premium
		decision.PremiumKnown = true
		perShare, pct := pnl(pos.EntryPremium, premium)
		decision.PnLPerShare = perShare
		decision.PnLPct = pct
		decision.TotalPnL = perShare * float64(pos.TotalShares())
	}

	trigger := func(reason models.ExitReason) (models.ExitDecision, error) {
		decision.Triggered = true
		decision.Reason = reason
		return decision, nil
	}

	// 1. Stop loss (inclusive)
	if known && decision.PnLPct <= -e.params.StopLossPct {
		return trigger(models.ExitReasonStopLoss)
	}

	// 2. Profit target (inclusive)
	if known && decision.PnLPct >= e.params.ProfitTargetPct {
		return trigger(models.ExitReasonProfitTarget)
	}

	hoursHeld := pos.HoursHeld(now)

	// 3. Hard time limit, unconditional
	if hoursHeld >= e.params.MaxHoldHours {
		return trigger(models.ExitReasonTimeHard)
	}

	// 4. Soft time limit. Unknown P&L counts as below the profit floor:
	// a position that cannot prove it is working gets cut.
	if hoursHeld >= e.params.SoftHoldHours {
		if !known || decision.PnLPct < e.params.SoftProfitFloorPct {
			return trigger(models.ExitReasonTimeSoft)
		}
	}

	// 5. Confirmed trend reversal
	if e.reversalConfirmed(pos, trend, now) {
		return trigger(models.ExitReasonTrendReversal)
	}

	// 6. Premium decayed below viability
	if known && premium < e.params.MinViablePremium {
		return trigger(models.ExitReasonLowPremium)
	}

	// 7. Forced intraday square-off
	if e.squareOffAt != nil && !now.Before(e.squareOffAt(now)) {
		return trigger(models.ExitReasonSquareOff)
	}

	return decision, nil
}

// reversalConfirmed requires the full conjunction: enough consecutive
// unfavourable observations, a break magnitude past the floor, and the
// minimum hold elapsed so entry-bar noise cannot eject a fresh position.
func (e *Evaluator) reversalConfirmed(pos models.Position,
	trend models.TrendSnapshot, now time.Time) bool {
	if !trend.Valid() {
		return false
	}
	if pos.ConfirmationCount < e.params.RequiredConfirmations {
		return false
	}
	if !trend.UnfavourableFor(pos.OptionType) {
		return false
	}
	if trend.BreakMagnitudePct() < e.params.MinTrendBreakPct {
		return false
	}
	return pos.MinutesHeld(now) >= e.params.MinHoldMinutes
}
