package main

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/astrarise/nifty-options-bot/internal/config"
	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/models"
	"github.com/astrarise/nifty-options-bot/internal/orders"
	"github.com/astrarise/nifty-options-bot/internal/quotes"
	"github.com/astrarise/nifty-options-bot/internal/storage"
	"github.com/astrarise/nifty-options-bot/internal/strategy"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
	"github.com/astrarise/nifty-options-bot/internal/trend"
)

// Engine wires the per-tick evaluation pipeline together.
type Engine struct {
	cfg       *config.Config
	cache     *quotes.Cache
	trend     *trend.Builder
	tracker   *tracker.Tracker
	evaluator *strategy.Evaluator
	ledger    *ledger.Ledger
	orders    *orders.Manager
	store     storage.Store
	logger    *logrus.Logger

	nowFn func() time.Time
}

// NewEngine assembles the evaluation engine.
func NewEngine(cfg *config.Config, cache *quotes.Cache, tb *trend.Builder,
	tr *tracker.Tracker, ev *strategy.Evaluator, lg *ledger.Ledger,
	om *orders.Manager, store storage.Store, logger *logrus.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		cache:     cache,
		trend:     tb,
		tracker:   tr,
		evaluator: ev,
		ledger:    lg,
		orders:    om,
		store:     store,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// RunLoop evaluates all open positions every tick until the context is
// cancelled. Outside trading hours the loop idles.
func (e *Engine) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	e.logger.WithField("interval", e.cfg.TickInterval().String()).
		Info("evaluation loop started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("evaluation loop stopping")
			return ctx.Err()
		case <-ticker.C:
			now := e.nowFn().In(e.cfg.Location())
			if !e.cfg.IsWithinTradingHours(now) {
				e.ledger.ResetIfNewDay(now)
				continue
			}
			e.RunCycle(ctx, now)
		}
	}
}

// RunCycle performs one evaluation pass: refresh the shared quote
// snapshot, build the trend snapshot, evaluate every open position in
// entry order, execute triggered exits, then persist state.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) {
	if len(e.tracker.ListOpen()) == 0 {
		return
	}

	if err := e.cache.Refresh(ctx); err != nil {
		e.logger.WithError(err).Warn("quote refresh failed, evaluating on cached data")
	}

	trendSnap, err := e.trend.BuildSnapshot(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("trend snapshot unavailable this tick")
		trendSnap = models.TrendSnapshot{}
	}

	if trendSnap.Candle.IsStrongBearish() {
		e.logger.WithField("close", trendSnap.Candle.Close).
			Debug("strong bearish confirmation bar on the underlying")
	}

	// Confirmation counters update once per tick, before evaluation, so
	// every position sees the same trend reading.
	e.tracker.ForEachTick(trendSnap)
	open := e.tracker.ListOpen()

	tradesToday := e.ledger.CountToday(now)
	if max := e.cfg.Risk.MaxDailyTrades; max > 0 && tradesToday >= max {
		e.logger.WithFields(logrus.Fields{
			"trades": tradesToday,
			"limit":  max,
		}).Warn("daily trade budget exhausted, exits only")
	}

	for _, pos := range open {
		if pos.NeedsReview {
			continue
		}

		if premium, ok := e.cache.GetPremium(pos.StrikePrice, pos.OptionType); ok {
			e.tracker.ObservePremium(pos.ID, premium, now)
		}

		decision, err := e.evaluator.Evaluate(pos, e.cache, trendSnap, tradesToday, now)
		if err != nil {
			if errors.Is(err, strategy.ErrInvalidEntryPremium) {
				e.tracker.FlagForReview(pos.ID, err.Error())
			} else {
				e.logger.WithError(err).WithField("symbol", pos.Symbol).
					Error("evaluation failed")
			}
			continue
		}

		e.logger.WithFields(logrus.Fields{
			"symbol":        pos.Symbol,
			"premium_known": decision.PremiumKnown,
			"pnl_pct":       decision.PnLPct,
			"reason":        decision.Reason,
			"triggered":     decision.Triggered,
		}).Debug("position evaluated")

		if !decision.Triggered {
			continue
		}
		if err := e.orders.ExecuteExit(ctx, pos, decision); err != nil {
			e.logger.WithError(err).WithField("symbol", pos.Symbol).
				Error("exit execution failed, will retry next tick")
		}
	}

	e.persist()
}

// persist saves tracker and ledger state, preserving accumulated history.
func (e *Engine) persist() {
	data, err := e.store.Load()
	if err != nil {
		e.logger.WithError(err).Error("could not load storage before save")
		data = &storage.Data{}
	}
	data.Positions = e.tracker.SnapshotAll()
	data.Ledger = e.ledger.Snapshot()
	if err := e.store.Save(data); err != nil {
		e.logger.WithError(err).Error("could not persist engine state")
	}
}
