package models

import "time"

// ExitReason identifies which exit rule triggered a decision.
type ExitReason string

const (
	// ExitReasonNone means no rule triggered.
	ExitReasonNone ExitReason = "NONE"
	// ExitReasonStopLoss fires when the loss breaches the stop threshold.
	ExitReasonStopLoss ExitReason = "STOP_LOSS"
	// ExitReasonProfitTarget fires when the gain reaches the target.
	ExitReasonProfitTarget ExitReason = "PROFIT_TARGET"
	// ExitReasonTimeSoft exits a position held past the soft window without
	// meaningful profit.
	ExitReasonTimeSoft ExitReason = "TIME_EXIT_SOFT"
	// ExitReasonTimeHard exits unconditionally after the maximum hold time.
	ExitReasonTimeHard ExitReason = "TIME_EXIT_HARD"
	// ExitReasonTrendReversal fires on a confirmed sustained trend break
	// against the position.
	ExitReasonTrendReversal ExitReason = "TREND_REVERSAL"
	// ExitReasonLowPremium exits when the premium decays below the minimum
	// viable level, before it becomes worthless.
	ExitReasonLowPremium ExitReason = "LOW_PREMIUM"
	// ExitReasonSquareOff is the mandatory end-of-day intraday close.
	ExitReasonSquareOff ExitReason = "FORCED_SQUARE_OFF"
)

// ExitDecision is the evaluator's verdict for one position on one tick.
type ExitDecision struct {
	Triggered bool       `json:"triggered"`
	Reason    ExitReason `json:"reason"`

	// P&L computed at decision time. Zero and PremiumKnown=false when the
	// current premium was unavailable.
	PnLPerShare    float64 `json:"pnl_per_share"`
	PnLPct         float64 `json:"pnl_pct"`
	TotalPnL       float64 `json:"total_pnl"`
	CurrentPremium float64 `json:"current_premium"`
	PremiumKnown   bool    `json:"premium_known"`

	// TradesToday annotates the decision with the daily ledger count; it is
	// never an exit trigger.
	TradesToday int       `json:"trades_today"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
