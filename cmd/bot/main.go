// Command bot runs the intraday options exit engine: it recovers open
// positions from the broker, then evaluates exit rules for every tracked
// position on a fixed tick until market close.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/astrarise/nifty-options-bot/internal/broker"
	"github.com/astrarise/nifty-options-bot/internal/config"
	"github.com/astrarise/nifty-options-bot/internal/dashboard"
	"github.com/astrarise/nifty-options-bot/internal/ledger"
	"github.com/astrarise/nifty-options-bot/internal/mock"
	"github.com/astrarise/nifty-options-bot/internal/notify"
	"github.com/astrarise/nifty-options-bot/internal/orders"
	"github.com/astrarise/nifty-options-bot/internal/quotes"
	"github.com/astrarise/nifty-options-bot/internal/recovery"
	"github.com/astrarise/nifty-options-bot/internal/storage"
	"github.com/astrarise/nifty-options-bot/internal/strategy"
	"github.com/astrarise/nifty-options-bot/internal/tracker"
	"github.com/astrarise/nifty-options-bot/internal/trend"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	oneShot := flag.Bool("once", false, "run a single evaluation cycle and exit")
	flag.Parse()

	// .env is optional; real deployments export the variables directly.
	_ = godotenv.Load()

	if err := run(*configPath, *oneShot); err != nil &&
		!errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("bot exited with error")
	}
}

func run(configPath string, oneShot bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)
	logger.WithFields(logrus.Fields{
		"mode":     cfg.Environment.Mode,
		"provider": cfg.Broker.Provider,
		"symbol":   cfg.Underlying.Symbol,
	}).Info("starting exit engine")

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	brk, err := buildBroker(cfg, logger)
	if err != nil {
		return err
	}

	store, err := storage.NewJSONStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	tr := tracker.New(logger)
	lg := ledger.New(cfg.Location(), logger)

	// Restore persisted state before asking the broker, so recovery only
	// fills the gaps.
	persisted, err := store.Load()
	if err != nil {
		return fmt.Errorf("loading persisted state: %w", err)
	}
	now := nowIn(cfg)
	if n := tr.Restore(persisted.Positions); n > 0 {
		logger.WithField("count", n).Info("positions restored from storage")
	}
	lg.Restore(persisted.Ledger, now)

	loader := recovery.NewLoader(brk, tr, lg, cfg.Underlying.Symbol,
		cfg.Underlying.LotSize, logger)
	if n, err := loader.Recover(ctx, now); err != nil {
		logger.WithError(err).Warn("broker recovery failed, continuing with persisted state")
	} else if n > 0 {
		logger.WithField("count", n).Info("positions recovered from broker")
	}

	cache := quotes.NewCache(brk, cfg.QuoteTTL(), cfg.Quotes.StaleCeilingMultiple,
		cfg.QuoteRefreshTimeout(), logger)
	tb := trend.NewBuilder(brk, cfg.Trend.Period, cfg.Trend.CandleCount)
	evaluator := strategy.NewEvaluator(paramsFromConfig(cfg), cfg.SquareOffAt)
	notifier := notify.NewLogNotifier(logger)
	om := orders.NewManager(brk, tr, store, notifier, logger)
	engine := NewEngine(cfg, cache, tb, tr, evaluator, lg, om, store, logger)

	if oneShot {
		engine.RunCycle(ctx, nowIn(cfg))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.RunLoop(gctx) })
	if cfg.Dashboard.Enabled {
		ds := dashboard.NewServer(cfg.Dashboard.Port, tr, lg, cache, store, logger)
		g.Go(func() error { return ds.Run(gctx) })
	}
	return g.Wait()
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func buildBroker(cfg *config.Config, logger *logrus.Logger) (broker.Broker, error) {
	var base broker.Broker
	switch cfg.Broker.Provider {
	case "upstox":
		base = broker.NewUpstoxBroker(broker.UpstoxOptions{
			AccessToken:   cfg.Broker.AccessToken,
			InstrumentKey: cfg.Broker.InstrumentKey,
			ExpiryDate:    cfg.Broker.ExpiryDate,
			Symbol:        cfg.Underlying.Symbol,
			ExpiryCode:    cfg.Broker.ExpiryCode,
			StrikeStep:    cfg.Underlying.StrikeStep,
			StrikeWindow:  cfg.Underlying.StrikeWindow,
		}, logger)
	case "zerodha":
		base = broker.NewZerodhaBroker(broker.ZerodhaOptions{
			APIKey:       cfg.Broker.APIKey,
			AccessToken:  cfg.Broker.AccessToken,
			Symbol:       cfg.Underlying.Symbol,
			ExpiryCode:   cfg.Broker.ExpiryCode,
			StrikeStep:   cfg.Underlying.StrikeStep,
			StrikeWindow: cfg.Underlying.StrikeWindow,
		}, logger)
	case "mock":
		return mock.NewMockBroker(cfg.Underlying.Symbol, cfg.Broker.ExpiryCode,
			cfg.Underlying.StrikeStep, cfg.Underlying.StrikeWindow), nil
	default:
		return nil, fmt.Errorf("unknown broker provider %q", cfg.Broker.Provider)
	}
	return broker.NewCircuitBreakerBroker(base, logger), nil
}

func paramsFromConfig(cfg *config.Config) strategy.Params {
	return strategy.Params{
		StopLossPct:           cfg.Exit.StopLossPct,
		ProfitTargetPct:       cfg.Exit.ProfitTargetPct,
		MaxHoldHours:          cfg.Exit.MaxHoldHours,
		SoftHoldHours:         cfg.Exit.SoftHoldHours,
		SoftProfitFloorPct:    cfg.Exit.SoftProfitFloorPct,
		RequiredConfirmations: cfg.Exit.RequiredConfirmations,
		MinTrendBreakPct:      cfg.Exit.MinTrendBreakPct,
		MinHoldMinutes:        cfg.Exit.MinHoldMinutes,
		MinViablePremium:      cfg.Exit.MinViablePremium,
	}
}
