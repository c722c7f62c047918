// Package notify fans exit events out to operator-facing channels.
package notify

import (
	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/models"
)

// Notifier receives trade lifecycle events. Implementations must not
// block the trading loop.
type Notifier interface {
	ExitTriggered(pos models.Position, decision models.ExitDecision)
	ExitFilled(pos models.Position, fillPrice float64)
	ExitFailed(pos models.Position, err error)
}

// LogNotifier writes events to the structured log. It is the default
// channel; richer transports can wrap or replace it.
type LogNotifier struct {
	logger *logrus.Logger
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ExitTriggered(pos models.Position, decision models.ExitDecision) {
	n.logger.WithFields(logrus.Fields{
		"symbol":  pos.Symbol,
		"reason":  decision.Reason,
		"pnl_pct": decision.PnLPct,
		"pnl":     decision.TotalPnL,
		"premium": decision.CurrentPremium,
		"trades":  decision.TradesToday,
	}).Info("exit triggered")
}

func (n *LogNotifier) ExitFilled(pos models.Position, fillPrice float64) {
	n.logger.WithFields(logrus.Fields{
		"symbol":     pos.Symbol,
		"reason":     pos.ExitReason,
		"fill_price": fillPrice,
	}).Info("exit filled")
}

func (n *LogNotifier) ExitFailed(pos models.Position, err error) {
	n.logger.WithError(err).WithFields(logrus.Fields{
		"symbol": pos.Symbol,
		"reason": pos.ExitReason,
	}).Error("exit order failed")
}
