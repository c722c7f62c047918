// Package orders turns exit decisions into broker orders and drives
// each one to a confirmed fill or a clean rollback.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/models"
	"github.com/astrarise/nifty-options-bot/internal/notify"
	"github.com/astrarise/nifty-options-bot/internal/storage"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
	"github.com/astrarise/nifty-options-bot/internal/util"
)

// OrderPlacer is the slice of the broker the manager depends on.
type OrderPlacer interface {
	PlaceSellOrder(ctx context.Context, symbol string, quantity int, limitPrice float64) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (broker.OrderStatus, error)
}

// Manager executes exit orders. A position leaves the tracker only when
// its exit order is confirmed filled; anything else rolls it back to
// open for re-evaluation next tick.
type Manager struct {
	placer   OrderPlacer
	tracker  *tracker.Tracker
	store    storage.Store
	notifier notify.Notifier
	logger   *logrus.Logger

	pollInterval time.Duration
	fillTimeout  time.Duration
}

// NewManager creates an order manager with the given fill polling cadence.
func NewManager(placer OrderPlacer, tr *tracker.Tracker,
	store storage.Store, notifier notify.Notifier, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		placer:       placer,
		tracker:      tr,
		store:        store,
		notifier:     notifier,
		logger:       logger,
		pollInterval: time.Second,
		fillTimeout:  20 * time.Second,
	}
}

// SetFillPolling overrides the poll cadence, mainly for tests.
func (m *Manager) SetFillPolling(interval, timeout time.Duration) {
	m.pollInterval = interval
	m.fillTimeout = timeout
}

// ExecuteExit submits a limit sell for the position and waits for the
// fill. On a terminal failure or timeout the position goes back to open.
func (m *Manager) ExecuteExit(ctx context.Context, pos models.Position,
	decision models.ExitDecision) error {

	if err := m.tracker.BeginExit(pos.ID, decision.Reason); err != nil {
		return err
	}
	if m.notifier != nil {
		m.notifier.ExitTriggered(pos, decision)
	}

	limit := decision.CurrentPremium
	if !decision.PremiumKnown {
		// Square-off and time exits can fire without a quote; fall back
		// to the last extreme seen so the order still goes out.
		limit = pos.WorstPriceSeen
	}
	limit = util.FloorToTick(limit, util.NSETick)
	if limit <= 0 {
		limit = util.NSETick
	}

	orderID, err := m.placer.PlaceSellOrder(ctx, pos.Symbol, pos.TotalShares(), limit)
	if err != nil {
		m.rollback(pos, fmt.Errorf("placing exit order: %w", err))
		return fmt.Errorf("placing exit order for %s: %w", pos.Symbol, err)
	}

	status, err := m.awaitFill(ctx, orderID)
	if err != nil {
		m.rollback(pos, err)
		return fmt.Errorf("awaiting fill for %s: %w", pos.Symbol, err)
	}

	return m.settle(pos, decision, status)
}

// awaitFill polls the order until it reaches a terminal state or the
// timeout elapses.
func (m *Manager) awaitFill(ctx context.Context, orderID string) (broker.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, m.fillTimeout)
	defer cancel()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		status, err := m.placer.GetOrderStatus(ctx, orderID)
		if err == nil {
			if status.Filled() {
				return status, nil
			}
			if status.Terminal() {
				return status, fmt.Errorf("order %s ended %s without filling", orderID, status.Status)
			}
		} else {
			m.logger.WithError(err).WithField("order_id", orderID).
				Warn("order status poll failed")
		}

		select {
		case <-ctx.Done():
			return broker.OrderStatus{}, fmt.Errorf("order %s not filled before timeout: %w",
				orderID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (m *Manager) rollback(pos models.Position, cause error) {
	if err := m.tracker.AbortExit(pos.ID); err != nil {
		m.logger.WithError(err).WithField("id", pos.ID).
			Error("could not roll back exit state")
	}
	if m.notifier != nil {
		m.notifier.ExitFailed(pos, cause)
	}
}

// settle closes the position and persists the round trip to history.
// The daily entry count is untouched here; only entry fills move it.
func (m *Manager) settle(pos models.Position, decision models.ExitDecision,
	status broker.OrderStatus) error {

	now := time.Now()
	closed, err := m.tracker.CompleteExit(pos.ID, now)
	if err != nil {
		return err
	}

	fillPrice := status.AveragePrice
	pnl := (fillPrice - closed.EntryPremium) * float64(closed.TotalShares())

	if m.store != nil {
		trade := storage.ClosedTrade{
			Symbol:       closed.Symbol,
			StrikePrice:  closed.StrikePrice,
			OptionType:   closed.OptionType,
			Quantity:     closed.Quantity,
			LotSize:      closed.LotSize,
			EntryPremium: closed.EntryPremium,
			ExitPremium:  fillPrice,
			PnL:          pnl,
			ExitReason:   closed.ExitReason,
			EntryTime:    closed.EntryTime,
			ExitTime:     now,
		}
		if err := m.store.AppendClosedTrade(trade); err != nil {
			m.logger.WithError(err).Error("could not persist closed trade")
		}
	}
	if m.notifier != nil {
		m.notifier.ExitFilled(closed, fillPrice)
	}

	m.logger.WithFields(logrus.Fields{
		"symbol":     closed.Symbol,
		"reason":     closed.ExitReason,
		"fill_price": fillPrice,
		"pnl":        pnl,
	}).Info("exit settled")
	return nil
}
